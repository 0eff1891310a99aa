package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Shell represents a supported shell for completion generation.
type Shell string

// Supported shells for completion.
const (
	ShellBash Shell = "bash"
	ShellZsh  Shell = "zsh"
	ShellFish Shell = "fish"
)

// ErrUnsupportedShell is returned when an unknown shell is requested.
var ErrUnsupportedShell = errors.New("unsupported shell")

// flagType represents the completion type for a flag.
type flagType int

const (
	flagString flagType = iota // default
	flagBool
	flagInt
	flagFloat
	flagEnum // has predefined values
	flagFile // file with glob pattern
	flagDir  // directory
)

// flagDef describes a flag for completion purposes.
type flagDef struct {
	Long     string   // --output
	Short    string   // -o (empty if none)
	Type     flagType // completion type
	Desc     string   // help text
	Values   []string // for enum flags
	FileGlob string   // for file flags
}

// commandDef describes a command for completion.
type commandDef struct {
	Name        string
	Desc        string
	Flags       []flagDef
	TakesFiles  bool   // accepts file arguments
	FilePattern string // glob for file arguments (e.g., "*.pdf")
}

// completionMeta holds completion-specific metadata for flags.
// Flag names, types, and descriptions come from the FlagSet.
type completionMeta struct {
	Values   []string // enum values
	FileGlob string   // file glob pattern
	IsDir    bool     // directory completion
}

// flagCompletionMeta maps flag names to their completion metadata.
var flagCompletionMeta = map[string]completionMeta{
	// Enum flags
	"method":      {Values: []string{"pdfjs-canvas", "native-browser", "server-conversion", "image-based", "download-fallback"}},
	"doc-type":    {Values: []string{"small", "standard", "large", "complex", "corrupted", "password-protected"}},
	"memory":      {Values: []string{"conservative", "standard", "aggressive"}},
	"wm-position": {Values: []string{"center", "top-left", "top-right", "bottom-left", "bottom-right"}},
	"report":      {Values: []string{"json", "text", "html"}},
	"log-level":   {Values: []string{"none", "error", "warn", "info", "debug", "verbose"}},
	"log-format":  {Values: []string{"text", "json"}},

	// File flags with glob patterns
	"config":     {FileGlob: "*.yaml,*.yml"},
	"report-out": {FileGlob: "*.json,*.txt,*.html"},
	"metrics":    {FileGlob: "*.prom,*.txt"},

	// Directory flags
	"output":     {IsDir: true},
	"assets-dir": {IsDir: true},
}

// extractFlagsFromFlagSet extracts flag definitions from a pflag.FlagSet.
// Enriches with completion metadata from flagCompletionMeta.
func extractFlagsFromFlagSet(fs *flag.FlagSet) []flagDef {
	var flags []flagDef

	fs.VisitAll(func(f *flag.Flag) {
		fd := flagDef{
			Long:  f.Name,
			Short: f.Shorthand,
			Desc:  f.Usage,
		}

		// Determine base type from pflag type
		switch f.Value.Type() {
		case "bool":
			fd.Type = flagBool
		case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
			fd.Type = flagInt
		case "float32", "float64":
			fd.Type = flagFloat
		default:
			fd.Type = flagString
		}

		// Override type based on completion metadata
		if meta, ok := flagCompletionMeta[f.Name]; ok {
			switch {
			case len(meta.Values) > 0:
				fd.Type = flagEnum
				fd.Values = meta.Values
			case meta.FileGlob != "":
				fd.Type = flagFile
				fd.FileGlob = meta.FileGlob
			case meta.IsDir:
				fd.Type = flagDir
			}
		}

		flags = append(flags, fd)
	})

	return flags
}

// getCommands returns the command registry for completion.
// Flags are extracted from the same registration the parsers use.
func getCommands() []commandDef {
	renderFS := flag.NewFlagSet("render", flag.ContinueOnError)
	registerRenderFlags(renderFS, &renderFlags{})
	analyzeFS := flag.NewFlagSet("analyze", flag.ContinueOnError)
	registerAnalyzeFlags(analyzeFS, &analyzeFlags{})

	return []commandDef{
		{
			Name:        "render",
			Desc:        "Render PDF documents to page images",
			Flags:       extractFlagsFromFlagSet(renderFS),
			TakesFiles:  true,
			FilePattern: "*.pdf",
		},
		{
			Name:        "analyze",
			Desc:        "Show document characteristics and rendering profile",
			Flags:       extractFlagsFromFlagSet(analyzeFS),
			TakesFiles:  true,
			FilePattern: "*.pdf",
		},
		{
			Name: "doctor",
			Desc: "Check the rendering environment",
			Flags: []flagDef{
				{Long: "json", Type: flagBool, Desc: "print JSON"},
				{Long: "config", Short: "c", Type: flagFile, Desc: "config file name or path", FileGlob: "*.yaml,*.yml"},
			},
		},
		{Name: "completion", Desc: "Generate shell completion script"},
		{Name: "version", Desc: "Show version information"},
		{Name: "help", Desc: "Show help for a command"},
	}
}

// GenerateCompletion writes shell completion script to w.
// Returns error if shell is unsupported or write fails.
func GenerateCompletion(w io.Writer, shell Shell) error {
	bw := bufio.NewWriter(w)
	switch shell {
	case ShellBash:
		generateBash(bw, getCommands())
	case ShellZsh:
		generateZsh(bw, getCommands())
	case ShellFish:
		generateFish(bw, getCommands())
	default:
		return fmt.Errorf("%w: %q (supported: bash, zsh, fish)", ErrUnsupportedShell, shell)
	}
	return bw.Flush()
}

// commandNames lists command names separated by spaces.
func commandNames(cmds []commandDef) string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return strings.Join(names, " ")
}

// globs splits a comma-separated glob list.
func globs(pattern string) []string {
	if pattern == "" {
		return nil
	}
	return strings.Split(pattern, ",")
}

func generateBash(w io.Writer, cmds []commandDef) {
	fmt.Fprintln(w, "# bash completion for pdfrender")
	fmt.Fprintln(w, "_pdfrender() {")
	fmt.Fprintln(w, "    local cur prev cmd")
	fmt.Fprintln(w, "    cur=\"${COMP_WORDS[COMP_CWORD]}\"")
	fmt.Fprintln(w, "    prev=\"${COMP_WORDS[COMP_CWORD-1]}\"")
	fmt.Fprintln(w, "    cmd=\"${COMP_WORDS[1]}\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    if [[ ${COMP_CWORD} -eq 1 ]]; then")
	fmt.Fprintf(w, "        COMPREPLY=($(compgen -W \"%s\" -- \"${cur}\"))\n", commandNames(cmds))
	fmt.Fprintln(w, "        return")
	fmt.Fprintln(w, "    fi")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    case \"${cmd}\" in")
	for _, c := range cmds {
		fmt.Fprintf(w, "    %s)\n", c.Name)
		switch c.Name {
		case "help":
			fmt.Fprintf(w, "        COMPREPLY=($(compgen -W \"%s\" -- \"${cur}\"))\n", commandNames(cmds))
			fmt.Fprintln(w, "        return")
		case "completion":
			fmt.Fprintf(w, "        COMPREPLY=($(compgen -W \"%s %s %s\" -- \"${cur}\"))\n", ShellBash, ShellZsh, ShellFish)
			fmt.Fprintln(w, "        return")
		}

		// Flag values
		fmt.Fprintln(w, "        case \"${prev}\" in")
		for _, f := range c.Flags {
			names := "--" + f.Long
			if f.Short != "" {
				names += "|-" + f.Short
			}
			switch f.Type {
			case flagEnum:
				fmt.Fprintf(w, "        %s) COMPREPLY=($(compgen -W \"%s\" -- \"${cur}\")); return ;;\n",
					names, strings.Join(f.Values, " "))
			case flagFile, flagString:
				fmt.Fprintf(w, "        %s) COMPREPLY=($(compgen -f -- \"${cur}\")); return ;;\n", names)
			case flagDir:
				fmt.Fprintf(w, "        %s) COMPREPLY=($(compgen -d -- \"${cur}\")); return ;;\n", names)
			case flagInt, flagFloat:
				fmt.Fprintf(w, "        %s) return ;;\n", names)
			}
		}
		fmt.Fprintln(w, "        esac")

		var words []string
		for _, f := range c.Flags {
			words = append(words, "--"+f.Long)
			if f.Short != "" {
				words = append(words, "-"+f.Short)
			}
		}
		fmt.Fprintln(w, "        if [[ \"${cur}\" == -* ]]; then")
		fmt.Fprintf(w, "            COMPREPLY=($(compgen -W \"%s\" -- \"${cur}\"))\n", strings.Join(words, " "))
		fmt.Fprintln(w, "            return")
		fmt.Fprintln(w, "        fi")
		if c.TakesFiles {
			fmt.Fprintln(w, "        COMPREPLY=($(compgen -f -- \"${cur}\"))")
		}
		fmt.Fprintln(w, "        ;;")
	}
	fmt.Fprintln(w, "    esac")
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w, "complete -o filenames -F _pdfrender pdfrender")
}

func generateZsh(w io.Writer, cmds []commandDef) {
	fmt.Fprintln(w, "#compdef pdfrender")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "_pdfrender() {")
	fmt.Fprintln(w, "    local -a commands")
	fmt.Fprintln(w, "    commands=(")
	for _, c := range cmds {
		fmt.Fprintf(w, "        '%s:%s'\n", c.Name, zshEscape(c.Desc))
	}
	fmt.Fprintln(w, "    )")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    if (( CURRENT == 2 )); then")
	fmt.Fprintln(w, "        _describe 'command' commands")
	fmt.Fprintln(w, "        return")
	fmt.Fprintln(w, "    fi")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    case \"${words[2]}\" in")
	for _, c := range cmds {
		fmt.Fprintf(w, "    %s)\n", c.Name)
		switch c.Name {
		case "help":
			fmt.Fprintln(w, "        _describe 'command' commands")
			fmt.Fprintln(w, "        ;;")
			continue
		case "completion":
			fmt.Fprintf(w, "        _values 'shell' %s %s %s\n", ShellBash, ShellZsh, ShellFish)
			fmt.Fprintln(w, "        ;;")
			continue
		}
		if len(c.Flags) == 0 && !c.TakesFiles {
			fmt.Fprintln(w, "        ;;")
			continue
		}
		fmt.Fprintln(w, "        _arguments \\")
		for _, f := range c.Flags {
			spec := zshFlagSpec(f)
			if f.Short != "" {
				fmt.Fprintf(w, "            '(-%s --%s)'{-%s,--%s}'%s' \\\n", f.Short, f.Long, f.Short, f.Long, spec)
			} else {
				fmt.Fprintf(w, "            '--%s%s' \\\n", f.Long, spec)
			}
		}
		if c.TakesFiles {
			fmt.Fprintf(w, "            '*:document:_files -g \"%s\"'\n", c.FilePattern)
		} else {
			fmt.Fprintln(w, "            ''")
		}
		fmt.Fprintln(w, "        ;;")
	}
	fmt.Fprintln(w, "    esac")
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "compdef _pdfrender pdfrender")
}

// zshFlagSpec returns the description and argument part of an _arguments spec.
func zshFlagSpec(f flagDef) string {
	desc := "[" + zshEscape(f.Desc) + "]"
	switch f.Type {
	case flagBool:
		return desc
	case flagEnum:
		return desc + ":" + f.Long + ":(" + strings.Join(f.Values, " ") + ")"
	case flagFile:
		var pats []string
		for _, g := range globs(f.FileGlob) {
			pats = append(pats, "-g \""+g+"\"")
		}
		return desc + ":file:_files " + strings.Join(pats, " ")
	case flagDir:
		return desc + ":directory:_files -/"
	default:
		return desc + ":" + f.Long + ":"
	}
}

// zshEscape makes s safe inside single-quoted _arguments specs.
func zshEscape(s string) string {
	r := strings.NewReplacer("'", "'\\''", "[", "\\[", "]", "\\]", ":", "\\:")
	return r.Replace(s)
}

func generateFish(w io.Writer, cmds []commandDef) {
	fmt.Fprintln(w, "# fish completion for pdfrender")
	fmt.Fprintf(w, "set -l pdfrender_commands %s\n", commandNames(cmds))
	fmt.Fprintln(w, "complete -c pdfrender -f")
	for _, c := range cmds {
		fmt.Fprintf(w, "complete -c pdfrender -n \"not __fish_seen_subcommand_from $pdfrender_commands\" -a %s -d '%s'\n",
			c.Name, fishEscape(c.Desc))
	}
	for _, c := range cmds {
		cond := "__fish_seen_subcommand_from " + c.Name
		switch c.Name {
		case "help":
			fmt.Fprintf(w, "complete -c pdfrender -n \"%s\" -a \"$pdfrender_commands\"\n", cond)
		case "completion":
			fmt.Fprintf(w, "complete -c pdfrender -n \"%s\" -a \"%s %s %s\"\n", cond, ShellBash, ShellZsh, ShellFish)
		}
		if c.TakesFiles {
			fmt.Fprintf(w, "complete -c pdfrender -n \"%s\" -F\n", cond)
		}
		for _, f := range c.Flags {
			var b strings.Builder
			fmt.Fprintf(&b, "complete -c pdfrender -n \"%s\" -l %s", cond, f.Long)
			if f.Short != "" {
				fmt.Fprintf(&b, " -s %s", f.Short)
			}
			switch f.Type {
			case flagBool:
			case flagEnum:
				fmt.Fprintf(&b, " -x -a \"%s\"", strings.Join(f.Values, " "))
			case flagFile:
				b.WriteString(" -r -F")
			case flagDir:
				b.WriteString(" -x -a \"(__fish_complete_directories)\"")
			default:
				b.WriteString(" -x")
			}
			fmt.Fprintf(&b, " -d '%s'", fishEscape(f.Desc))
			fmt.Fprintln(w, b.String())
		}
	}
}

func fishEscape(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// runCompletion handles the completion command.
func runCompletion(args []string, env *Environment) error {
	if len(args) == 0 {
		printCompletionUsage(env.Stdout)
		return nil
	}
	return GenerateCompletion(env.Stdout, Shell(args[0]))
}

// printCompletionUsage prints help for the completion command.
func printCompletionUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pdfrender completion <shell>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Generate shell completion script for the specified shell.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Supported shells:")
	fmt.Fprintln(w, "  bash        Bash completion script")
	fmt.Fprintln(w, "  zsh         Zsh completion script")
	fmt.Fprintln(w, "  fish        Fish completion script")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Installation:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Bash:")
	fmt.Fprintln(w, "    # Add to ~/.bashrc:")
	fmt.Fprintln(w, "    eval \"$(pdfrender completion bash)\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Zsh:")
	fmt.Fprintln(w, "    # Add to ~/.zshrc (after compinit):")
	fmt.Fprintln(w, "    eval \"$(pdfrender completion zsh)\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Fish:")
	fmt.Fprintln(w, "    pdfrender completion fish > ~/.config/fish/completions/pdfrender.fish")
}
