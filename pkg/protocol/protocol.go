// Package protocol implements the wire format that Pakman's dispatch core
// speaks to the user-supplied executables: the simulator, prior sampler,
// perturber, prior pdf, perturbation pdf and generator. Each contract is a
// pair of format/parse functions; format builds an executable's stdin,
// parse interprets its stdout. See spec.md §6 for the full contracts.
package protocol

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/types"
)

// ErrProtocol reports that an executable's output did not conform to its
// contract (wrong number of lines, unparseable verdict or number).
type ErrProtocol struct {
	Who    string
	Output string
	Reason string
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("protocol: %s output %q: %s", e.Who, e.Output, e.Reason)
}

func protocolErr(who, output, reason string) error {
	return &ErrProtocol{Who: who, Output: output, Reason: reason}
}

// singleLine extracts exactly one newline-terminated line from output,
// returning an error if there are zero or more than one.
func singleLine(who, output string) (string, error) {
	lines := strings.Split(output, "\n")
	// strings.Split on a string ending in \n yields a trailing "" element.
	if len(lines) < 2 || lines[len(lines)-1] != "" {
		return "", protocolErr(who, output, "must contain exactly one newline-terminated line")
	}
	lines = lines[:len(lines)-1]
	if len(lines) != 1 {
		return "", protocolErr(who, output, "must contain exactly one newline-terminated line")
	}
	return lines[0], nil
}

// FormatSimulatorInput builds the two-line stdin payload for a simulator
// invocation: epsilon then parameter.
func FormatSimulatorInput(epsilon types.Epsilon, parameter types.Parameter) string {
	return epsilon.String() + "\n" + parameter.String() + "\n"
}

// ParseSimulatorOutput interprets a simulator's verdict line. Any value
// other than {0,reject,rejected} / {1,accept,accepted} is a protocol
// error, per the resolution of the open question in spec.md §9.
func ParseSimulatorOutput(output string) (bool, error) {
	line, err := singleLine("simulator", output)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(line) {
	case "1", "accept", "accepted":
		return true, nil
	case "0", "reject", "rejected":
		return false, nil
	default:
		return false, protocolErr("simulator", output, "verdict must be one of 0/reject/rejected or 1/accept/accepted")
	}
}

// ParsePriorSamplerOutput interprets a prior sampler's single output line
// as a Parameter.
func ParsePriorSamplerOutput(output string) (types.Parameter, error) {
	line, err := singleLine("prior_sampler", output)
	if err != nil {
		return "", err
	}
	return types.Parameter(line), nil
}

// FormatPerturberInput builds the two-line stdin payload for a perturber
// invocation: generation index then source parameter.
func FormatPerturberInput(t int, source types.Parameter) string {
	return strconv.Itoa(t) + "\n" + source.String() + "\n"
}

// ParsePerturberOutput interprets a perturber's single output line as a
// Parameter.
func ParsePerturberOutput(output string) (types.Parameter, error) {
	line, err := singleLine("perturber", output)
	if err != nil {
		return "", err
	}
	return types.Parameter(line), nil
}

// FormatPriorPdfInput builds the single-line stdin payload for a prior_pdf
// invocation.
func FormatPriorPdfInput(parameter types.Parameter) string {
	return parameter.String() + "\n"
}

// ParsePriorPdfOutput interprets a prior_pdf's single output line as a
// floating-point density.
func ParsePriorPdfOutput(output string) (float64, error) {
	line, err := singleLine("prior_pdf", output)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseFloat(line, 64)
	if perr != nil {
		return 0, protocolErr("prior_pdf", output, "cannot parse density: "+perr.Error())
	}
	return v, nil
}

// FormatPerturbationPdfInput builds the stdin payload for a
// perturbation_pdf invocation: generation index, perturbed parameter, then
// one line per source parameter in the population.
func FormatPerturbationPdfInput(t int, perturbed types.Parameter, population []types.Parameter) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(t))
	b.WriteByte('\n')
	b.WriteString(perturbed.String())
	b.WriteByte('\n')
	for _, p := range population {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ParsePerturbationPdfOutput interprets a perturbation_pdf's output as N
// newline-terminated floating-point densities, one per source parameter.
func ParsePerturbationPdfOutput(output string) ([]float64, error) {
	if output == "" || !strings.HasSuffix(output, "\n") {
		return nil, protocolErr("perturbation_pdf", output, "must end with newline")
	}
	var densities []float64
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, protocolErr("perturbation_pdf", output, "cannot parse density: "+err.Error())
		}
		densities = append(densities, v)
	}
	return densities, nil
}

// ParseGeneratorOutput interprets a generator's output as a newline-
// terminated list of parameters, one per line.
func ParseGeneratorOutput(output string) ([]types.Parameter, error) {
	if output == "" || !strings.HasSuffix(output, "\n") {
		return nil, protocolErr("generator", output, "must end with newline")
	}
	var params []types.Parameter
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			params = append(params, types.Parameter(line))
		}
	}
	return params, nil
}

// runOnce execs cmd, optionally feeding it stdin, and returns its
// collected stdout. A nonzero exit is surfaced as an error distinct from
// protocol errors, matching the original's system_call helper contract
// for auxiliary (non-simulator) executables: auxiliary failures are
// always fatal, never subject to ignore-errors.
func runOnce(cmd command.Command, stdin string) (string, error) {
	c := cmd.Cmd()
	if stdin != "" {
		c.Stdin = strings.NewReader(stdin)
	}
	out, err := c.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("protocol: %s exited with status %d: %s", cmd.String(), ee.ExitCode(), string(ee.Stderr))
		}
		return "", fmt.Errorf("protocol: running %s: %w", cmd.String(), err)
	}
	return string(out), nil
}

// SampleFromPrior runs the prior sampler and parses its output.
func SampleFromPrior(priorSampler command.Command) (types.Parameter, error) {
	out, err := runOnce(priorSampler, "")
	if err != nil {
		return "", err
	}
	return ParsePriorSamplerOutput(out)
}

// PerturbParameter runs the perturber on source and parses its output.
func PerturbParameter(perturber command.Command, t int, source types.Parameter) (types.Parameter, error) {
	out, err := runOnce(perturber, FormatPerturberInput(t, source))
	if err != nil {
		return "", err
	}
	return ParsePerturberOutput(out)
}

// GetPriorPdf runs the prior pdf executable on parameter and parses its
// output.
func GetPriorPdf(priorPdf command.Command, parameter types.Parameter) (float64, error) {
	out, err := runOnce(priorPdf, FormatPriorPdfInput(parameter))
	if err != nil {
		return 0, err
	}
	return ParsePriorPdfOutput(out)
}

// GetPerturbationPdf runs the perturbation pdf executable and parses its
// output into one density per member of population.
func GetPerturbationPdf(perturbationPdf command.Command, t int, perturbed types.Parameter, population []types.Parameter) ([]float64, error) {
	out, err := runOnce(perturbationPdf, FormatPerturbationPdfInput(t, perturbed, population))
	if err != nil {
		return nil, err
	}
	densities, err := ParsePerturbationPdfOutput(out)
	if err != nil {
		return nil, err
	}
	if len(densities) != len(population) {
		return nil, protocolErr("perturbation_pdf", out, "did not output exactly one density per population member")
	}
	return densities, nil
}
