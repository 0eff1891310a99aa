package main

// Notes:
// - Scripts are checked for the commands and flags they must mention;
//   shells are not executed

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateCompletion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shell Shell
		want  []string
	}{
		{ShellBash, []string{"_pdfrender()", "complete -o filenames -F _pdfrender pdfrender", "--method|-m)", "pdfjs-canvas native-browser", "compgen -d"}},
		{ShellZsh, []string{"#compdef pdfrender", "compdef _pdfrender pdfrender", "'(-m --method)'{-m,--method}", "_files -/", "'render:Render PDF documents to page images'"}},
		{ShellFish, []string{"complete -c pdfrender -f", "-l method -s m -x -a \"pdfjs-canvas", "-l config -s c -r -F", "__fish_complete_directories"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.shell), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := GenerateCompletion(&buf, tt.shell); err != nil {
				t.Fatalf("GenerateCompletion() error = %v", err)
			}
			out := buf.String()
			for _, cmd := range getCommands() {
				if !strings.Contains(out, cmd.Name) {
					t.Errorf("script missing command %q", cmd.Name)
				}
			}
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("script missing %q", s)
				}
			}
		})
	}
}

func TestGenerateCompletion_Unsupported(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := GenerateCompletion(&buf, Shell("tcsh"))
	if !errors.Is(err, ErrUnsupportedShell) {
		t.Errorf("error = %v, want ErrUnsupportedShell", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for an unsupported shell", buf.Len())
	}
}

func TestGetCommands_FlagsMatchParsers(t *testing.T) {
	t.Parallel()

	byName := map[string]commandDef{}
	for _, c := range getCommands() {
		byName[c.Name] = c
	}

	render := byName["render"]
	types := map[string]flagType{}
	for _, f := range render.Flags {
		types[f.Long] = f.Type
	}
	wantTypes := map[string]flagType{
		"method":      flagEnum,
		"output":      flagDir,
		"config":      flagFile,
		"workers":     flagInt,
		"scale":       flagFloat,
		"no-fallback": flagBool,
		"password":    flagString,
	}
	for name, want := range wantTypes {
		if got, ok := types[name]; !ok || got != want {
			t.Errorf("render flag %q type = %v (present %v), want %v", name, got, ok, want)
		}
	}

	if !render.TakesFiles || render.FilePattern != "*.pdf" {
		t.Errorf("render files = %v %q", render.TakesFiles, render.FilePattern)
	}
	if len(byName["analyze"].Flags) == 0 {
		t.Error("analyze has no flags")
	}
}

func TestRunCompletion_NoArgs(t *testing.T) {
	t.Parallel()

	env, stdout, _ := testEnv(nil)
	if err := runCompletion(nil, env); err != nil {
		t.Fatalf("runCompletion() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "Usage: pdfrender completion <shell>") {
		t.Errorf("stdout = %q", stdout.String())
	}
}
