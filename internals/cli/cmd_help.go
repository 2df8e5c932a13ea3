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

package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/canonical/go-flags"
)

const cmdHelpSummary = "Show help about a command"
const cmdHelpDescription = `
The help command displays information about commands.
`

type cmdHelp struct {
	parser *flags.Parser

	All        bool `long:"all"`
	Positional struct {
		Subs []string `positional-arg-name:"<command>"`
	} `positional-args:"yes"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "help",
		Summary:     cmdHelpSummary,
		Description: cmdHelpDescription,
		ArgsHelp: map[string]string{
			"--all": "Show a short summary of all commands",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdHelp{parser: opts.Parser}
		},
	})
}

// addHelp adds --help like what go-flags would do for us, but hidden
func addHelp(parser *flags.Parser) error {
	var help struct {
		ShowHelp func() error `short:"h" long:"help"`
	}
	help.ShowHelp = func() error {
		// Active is the command help was requested on, or nil at the
		// top level, where returning nil would go on to run the command.
		if parser.Command.Active == nil {
			return &flags.Error{Type: flags.ErrCommandRequired}
		}
		return &flags.Error{Type: flags.ErrHelp}
	}
	hlpgrp, err := parser.AddGroup("Help Options", "", &help)
	if err != nil {
		return err
	}
	hlpgrp.Hidden = true
	hlp := parser.FindOptionByLongName("help")
	hlp.Description = "Show this help message"
	hlp.Hidden = true

	return nil
}

func (cmd cmdHelp) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if cmd.All {
		if len(cmd.Positional.Subs) > 0 {
			return usageErrorf("help accepts a command, or '--all', but not both.")
		}
		printLongHelp(cmd.parser)
		return nil
	}

	var subcmd = cmd.parser.Command
	for _, subname := range cmd.Positional.Subs {
		subcmd = subcmd.Find(subname)
		if subcmd == nil {
			return usageErrorf("unknown command %q, see 'otactl help'.", strings.Join(cmd.Positional.Subs, " "))
		}
		// this makes "otactl help foo" work the same as "otactl foo --help"
		cmd.parser.Command.Active = subcmd
	}
	if subcmd != cmd.parser.Command {
		return &flags.Error{Type: flags.ErrHelp}
	}
	return &flags.Error{Type: flags.ErrCommandRequired}
}

type HelpCategory struct {
	Label       string
	Description string
	Commands    []string
}

// HelpCategories groups commands for the short help.
var HelpCategories = []HelpCategory{{
	Label:       "Update",
	Description: "install updates into the spare set",
	Commands:    []string{"update install"},
}, {
	Label:       "System",
	Description: "inspect and control the partition sets",
	Commands:    []string{"system info", "system history", "system reboot", "system commit", "system provision"},
}, {
	Label:       "Tooling",
	Description: "build update bundles",
	Commands:    []string{"bundle create"},
}, {
	Label:       "Info",
	Description: "help and version information",
	Commands:    []string{"help", "version"},
}}

const longOtactlDescription = `
otactl installs system updates into the spare of two partition sets and
boots them once. A system that works is committed as the new default;
one that does not is left behind by the next reboot.
`

var (
	otactlUsage               = "Usage: otactl <command> [<options>...]"
	otactlHelpCategoriesIntro = "Commands can be classified as follows:"

	HelpFooter = strings.TrimSpace(`
Set the OTACTL_CONFIG environment variable to override the configuration
file (which defaults to /etc/otactl/config.yaml).
`)

	otactlHelpAllFooter = "For more information about a command, run 'otactl help <command>'."
	otactlHelpFooter    = "For a short summary of all commands, run 'otactl help --all'."
)

func printHelpHeader() {
	fmt.Fprintln(Stdout, strings.TrimSpace(longOtactlDescription))
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, otactlUsage)
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, otactlHelpCategoriesIntro)
}

func printHelpAllFooter() {
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, HelpFooter)
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, otactlHelpAllFooter)
}

func printHelpFooter() {
	printHelpAllFooter()
	fmt.Fprintln(Stdout, otactlHelpFooter)
}

// this is called when the Execute returns a flags.Error with ErrCommandRequired
func printShortHelp() {
	printHelpHeader()
	fmt.Fprintln(Stdout)
	maxLen := 0
	for _, categ := range HelpCategories {
		if l := utf8.RuneCountInString(categ.Label); l > maxLen {
			maxLen = l
		}
	}
	for _, categ := range HelpCategories {
		fmt.Fprintf(Stdout, "%*s: %s\n", maxLen+2, categ.Label, strings.Join(categ.Commands, ", "))
	}
	printHelpFooter()
}

// findCommand looks up a command by its space-separated path.
func findCommand(parser *flags.Parser, path string) *flags.Command {
	cmd := parser.Command
	for _, name := range strings.Fields(path) {
		if cmd = cmd.Find(name); cmd == nil {
			return nil
		}
	}
	return cmd
}

// this is "otactl help --all"
func printLongHelp(parser *flags.Parser) {
	printHelpHeader()
	maxLen := 0
	for _, categ := range HelpCategories {
		for _, command := range categ.Commands {
			if l := len(command); l > maxLen {
				maxLen = l
			}
		}
	}

	for _, categ := range HelpCategories {
		fmt.Fprintln(Stdout)
		fmt.Fprintf(Stdout, "  %s (%s):\n", categ.Label, categ.Description)
		for _, name := range categ.Commands {
			cmd := findCommand(parser, name)
			if cmd == nil {
				fmt.Fprintf(Stderr, "??? Cannot find command %q mentioned in help categories, please report!\n", name)
			} else {
				fmt.Fprintf(Stdout, "    %*s  %s\n", -maxLen, name, cmd.ShortDescription)
			}
		}
	}
	printHelpAllFooter()
}
