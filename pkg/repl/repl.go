package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"framehash/pkg/config"

	"github.com/google/uuid"
)

// ReplCommand runs one command. It receives the whole input line.
type ReplCommand func(string, *REPLConfig) (output string, err error)

const (
	// Trigger for the help meta-command that prints out all help strings
	TriggerHelpMetacommand = ".help"

	// String that should be prepended to any error before being sent to the output writer
	ErrorPrependStr = "ERROR: "
)

var (
	ErrOverlappingCommands = errors.New("found overlapping commands")
	ErrCommandNotFound     = errors.New("command not found")
	ErrReservedTrigger     = errors.New("trigger is reserved")
)

// REPL maps triggers to commands.
type REPL struct {
	commands map[string]ReplCommand
	help     map[string]string
}

// REPLConfig is passed to every command of one client.
type REPLConfig struct {
	clientId uuid.UUID
}

// ClientID returns the id of the client running the command.
func (replConfig *REPLConfig) ClientID() uuid.UUID {
	return replConfig.clientId
}

// Construct an empty REPL.
func NewRepl() *REPL {
	return &REPL{make(map[string]ReplCommand), make(map[string]string)}
}

// CombineRepls merges the commands of repls. Triggers must not overlap.
func CombineRepls(repls []*REPL) (*REPL, error) {
	combined := NewRepl()
	for _, r := range repls {
		for trigger, command := range r.commands {
			if _, exists := combined.commands[trigger]; exists {
				return nil, fmt.Errorf("%s: %w", trigger, ErrOverlappingCommands)
			}
			if err := combined.AddCommand(trigger, command, r.help[trigger]); err != nil {
				return nil, err
			}
		}
	}
	return combined, nil
}

// Get commands.
func (r *REPL) GetCommands() map[string]ReplCommand {
	return r.commands
}

// Get help.
func (r *REPL) GetHelp() map[string]string {
	return r.help
}

// AddCommand adds a command with its help string. An existing trigger is
// overwritten.
func (r *REPL) AddCommand(trigger string, action ReplCommand, help string) error {
	if trigger == TriggerHelpMetacommand {
		return fmt.Errorf("%s: %w", trigger, ErrReservedTrigger)
	}
	r.commands[trigger] = action
	r.help[trigger] = help
	return nil
}

// HelpString returns the help strings of all commands, sorted by trigger.
func (r *REPL) HelpString() string {
	triggers := make([]string, 0, len(r.help))
	for k := range r.help {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)
	var sb strings.Builder
	for _, k := range triggers {
		fmt.Fprintf(&sb, "%s: %s\n", k, r.help[k])
	}
	return sb.String()
}

// execute runs one input line and returns what to print.
func (r *REPL) execute(payload string, replConfig *REPLConfig) string {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return ""
	}
	trigger := fields[0]
	if trigger == TriggerHelpMetacommand {
		return r.HelpString()
	}
	command, exists := r.commands[trigger]
	if !exists {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, ErrCommandNotFound)
	}
	result, err := command(payload, replConfig)
	if err != nil {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, err)
	}
	if len(result) != 0 && !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}

// Run writes a welcome line and then executes input lines until EOF. Input
// and output default to stdin and stdout.
func (r *REPL) Run(clientId uuid.UUID, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	replConfig := &REPLConfig{clientId: clientId}
	fmt.Fprintf(output, "Welcome to the %s REPL! Please type '%s' to see the list of available commands.\n", config.Name, TriggerHelpMetacommand)
	io.WriteString(output, prompt)
	for scanner.Scan() {
		io.WriteString(output, r.execute(scanner.Text(), replConfig))
		io.WriteString(output, prompt)
	}
	// Print an additional line if we encountered an EOF character.
	io.WriteString(output, "\n")
}

// RunChan executes lines received on c until it is closed, echoing each
// line before its output.
func (r *REPL) RunChan(c <-chan string, clientId uuid.UUID, prompt string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	replConfig := &REPLConfig{clientId: clientId}
	io.WriteString(output, prompt)
	for payload := range c {
		io.WriteString(output, payload+"\n")
		io.WriteString(output, r.execute(payload, replConfig))
		io.WriteString(output, prompt)
	}
	io.WriteString(output, "\n")
}
