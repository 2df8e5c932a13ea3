// Copyright (c) 2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package cli implements the otactl command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/canonical/go-flags"
	"golang.org/x/term"

	"github.com/canonical/otactl/internals/config"
	"github.com/canonical/otactl/internals/engine"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
)

var (
	// Standard streams, redirected for testing.
	Stdin  io.Reader = os.Stdin
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
	// set to logger.Panicf in testing
	noticef = logger.Noticef
)

// ErrExtraArgs is returned if extra arguments to a command are found
var ErrExtraArgs = fmt.Errorf("too many arguments for command")

// Exit codes besides 0 for success.
const (
	ExitError = 1
	ExitUsage = 2
)

var kindExitCodes = map[ota.Kind]int{
	ota.ErrorKindLayout:          10,
	ota.ErrorKindIO:              11,
	ota.ErrorKindArtifactFormat:  12,
	ota.ErrorKindStateConflict:   13,
	ota.ErrorKindPolicyViolation: 14,
}

// usageError is a command line mistake, reported with ExitUsage.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usageErrorf(format string, v ...any) error {
	return &usageError{msg: fmt.Sprintf(format, v...)}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := kindExitCodes[ota.KindOf(err)]; ok {
		return code
	}
	var uerr *usageError
	if errors.As(err, &uerr) || err == ErrExtraArgs {
		return ExitUsage
	}
	var ferr *flags.Error
	if errors.As(err, &ferr) {
		switch ferr.Type {
		case flags.ErrUnknown, flags.ErrMarshal:
			return ExitError
		}
		return ExitUsage
	}
	return ExitError
}

// CmdOptions exposes state made accessible during command execution.
type CmdOptions struct {
	Parser *flags.Parser
}

// CmdInfo holds information needed by the CLI to execute commands and
// populate entries in the help manual.
type CmdInfo struct {
	// Name of the command
	Name string

	// Group is the parent command, such as "system", or empty for a
	// top-level command.
	Group string

	// Summary is a single-line help string that will be displayed
	// in the full help manual (i.e. help --all)
	Summary string

	// Description contains exhaustive documentation about the command,
	// that will be reflected in the specific help manual for the
	// command.
	Description string

	// ArgsHelp (optional) contains help about the command-line arguments
	// (including options) supported by the command.
	//
	//  map[string]string{
	//      "--long-option": "my very long option",
	//      "-v": "verbose output",
	//      "<change-id>": "named positional argument"
	//  }
	ArgsHelp map[string]string

	// New is a function that creates a new instance of the command
	// struct containing an Execute(args []string) implementation.
	New func(*CmdOptions) flags.Commander
}

// commands holds information about all commands.
var commands []*CmdInfo

// AddCommand replaces parser.addCommand() in a way that is compatible with
// re-constructing a pristine parser.
func AddCommand(info *CmdInfo) {
	commands = append(commands, info)
}

// groups are the parent commands, in help order.
var groups = []struct {
	name, summary, description string
}{
	{"update", "Install updates", "The update commands write new systems to the spare partition set."},
	{"system", "Inspect and control the partition sets", "The system commands report on the partition sets, reboot into them and commit the running one."},
	{"bundle", "Work with update bundles", "The bundle commands build update bundles."},
}

type groupCommand struct{}

func lintDesc(cmdName, optName, desc, origDesc string) {
	if len(optName) == 0 {
		logger.Panicf("option on %q has no name", cmdName)
	}
	if len(origDesc) != 0 {
		logger.Panicf("description of %s's %q of %q set from tag", cmdName, optName, origDesc)
	}
	if len(desc) > 0 {
		// decode the first rune instead of converting all of desc into []rune
		r, _ := utf8.DecodeRuneInString(desc)
		// note IsLower != !IsUpper for runes with no upper/lower.
		if unicode.IsLower(r) && !strings.HasPrefix(desc, cmdName) {
			noticef("description of %s's %q is lowercase: %q", cmdName, optName, desc)
		}
	}
}

func lintArg(cmdName, optName, desc, origDesc string) {
	lintDesc(cmdName, optName, desc, origDesc)
	if len(optName) > 0 && optName[0] == '<' && optName[len(optName)-1] == '>' {
		return
	}
	noticef("argument %q's %q should begin with < and end with >", cmdName, optName)
}

// Parser creates and populates a fresh parser.
// Since commands have local state a fresh parser is required to isolate tests
// from each other.
func Parser() *flags.Parser {
	parser := flags.NewParser(&struct{}{}, flags.Options(flags.PassDoubleDash))
	parser.Name = "otactl"
	parser.ShortDescription = "A/B partition set update engine"
	parser.LongDescription = longOtactlDescription
	// hide the unhelpful "[OPTIONS]" from help output
	parser.Usage = ""
	// add --help like what go-flags would do for us, but hidden
	addHelp(parser)

	parents := map[string]*flags.Command{"": parser.Command}
	for _, g := range groups {
		cmd, err := parser.AddCommand(g.name, g.summary, g.description, &groupCommand{})
		if err != nil {
			logger.Panicf("cannot add command %q: %v", g.name, err)
		}
		parents[g.name] = cmd
	}

	opts := &CmdOptions{Parser: parser}
	for _, c := range commands {
		parent, ok := parents[c.Group]
		if !ok {
			logger.Panicf("cannot add command %q: unknown group %q", c.Name, c.Group)
		}
		obj := c.New(opts)
		cmd, err := parent.AddCommand(c.Name, c.Summary, strings.TrimSpace(c.Description), obj)
		if err != nil {
			logger.Panicf("cannot add command %q: %v", c.Name, err)
		}

		argsHelp := make(map[string]string, len(c.ArgsHelp))
		for k, v := range c.ArgsHelp {
			argsHelp[k] = v
		}
		for _, opt := range cmd.Options() {
			name := "--" + opt.LongName
			if opt.LongName == "" {
				name = "-" + string(opt.ShortName)
			}
			desc, ok := argsHelp[name]
			if !ok && c.ArgsHelp != nil {
				logger.Panicf("%s missing description for %s", c.Name, name)
			}
			delete(argsHelp, name)
			lintDesc(c.Name, name, desc, opt.Description)
			if desc != "" {
				opt.Description = desc
			}
		}
		for _, arg := range cmd.Args() {
			desc := argsHelp[arg.Name]
			delete(argsHelp, arg.Name)
			lintArg(c.Name, arg.Name, desc, arg.Description)
			arg.Description = desc
		}
		if len(argsHelp) > 0 {
			logger.Panicf("%s has descriptions for unknown arguments: %v", c.Name, argsHelp)
		}
	}
	return parser
}

var (
	isStdinTTY  = term.IsTerminal(0)
	isStdoutTTY = term.IsTerminal(1)
)

// openDevice resolves the device described by the configuration at
// $OTACTL_CONFIG, or the default location.
func openDevice() (*engine.Device, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

// Run parses the command line and runs the selected command.
func Run() error {
	logger.SetLogger(logger.New(os.Stderr, "[otactl] "))

	parser := Parser()
	xtra, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok {
			switch e.Type {
			case flags.ErrCommandRequired:
				if active := parser.Command.Active; active != nil {
					parser.WriteHelp(Stdout)
					return nil
				}
				printShortHelp()
				return nil
			case flags.ErrHelp:
				parser.WriteHelp(Stdout)
				return nil
			case flags.ErrUnknownCommand:
				sub := os.Args[1]
				sug := "otactl help"
				if len(xtra) > 0 {
					sub = xtra[0]
					if x := parser.Command.Active; x != nil && x.Name != "help" {
						sug = "otactl help " + x.Name
					}
				}
				return usageErrorf("unknown command %q, see '%s'.", sub, sug)
			}
		}
		return err
	}
	return nil
}
