package installer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConsoleScript is one [console_scripts] entry point: the command name
// and the module attribute it invokes.
type ConsoleScript struct {
	Name   string
	Module string
	Attr   string
}

// ParseEntryPoints extracts the console scripts from an entry_points.txt
// document. Other sections (gui_scripts, plugin registries) are ignored.
func ParseEntryPoints(r io.Reader) ([]ConsoleScript, error) {
	var (
		scripts []ConsoleScript
		section string
	)

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		case section != "console_scripts":
			continue
		}

		cs, ok := parseScriptLine(line)
		if !ok {
			continue // tolerate malformed lines, as pip does
		}

		scripts = append(scripts, cs)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading entry points: %w", err)
	}

	return scripts, nil
}

// parseScriptLine parses "name = module:attr" with an optional trailing
// "[extras]" qualifier.
func parseScriptLine(line string) (ConsoleScript, bool) {
	name, target, ok := strings.Cut(line, "=")
	if !ok {
		return ConsoleScript{}, false
	}

	target = strings.TrimSpace(target)
	if bracket := strings.IndexByte(target, '['); bracket >= 0 {
		target = strings.TrimSpace(target[:bracket])
	}

	module, attr, ok := strings.Cut(target, ":")
	if !ok {
		return ConsoleScript{}, false
	}

	return ConsoleScript{
		Name:   strings.TrimSpace(name),
		Module: strings.TrimSpace(module),
		Attr:   strings.TrimSpace(attr),
	}, true
}

// RenderScript produces the launcher for a console script. The shebang
// goes through the same long-path/space handling as rewritten wheel
// scripts, so a deeply nested virtualenv gets the exec trampoline here
// too.
func RenderScript(pythonPath string, cs ConsoleScript) []byte {
	body := fmt.Sprintf(`import sys
from %s import %s
if __name__ == '__main__':
    sys.argv[0] = sys.argv[0].removesuffix('.exe')
    sys.exit(%s())
`, cs.Module, cs.Attr, cs.Attr)

	return []byte(buildShebangLine(pythonPath, false) + "\n" + body)
}

// installConsoleScripts renders and installs every console script the
// dist-info declares, returning their RECORD entries.
func installConsoleScripts(distInfoDir, binDir, pythonPath string) ([]RecordEntry, error) {
	f, err := os.Open(filepath.Join(distInfoDir, "entry_points.txt"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening entry_points.txt: %w", err)
	}
	defer func() { _ = f.Close() }()

	scripts, err := ParseEntryPoints(f)
	if err != nil {
		return nil, err
	}

	if len(scripts) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", binDir, err)
	}

	var records []RecordEntry

	for _, cs := range scripts {
		path := filepath.Join(binDir, cs.Name)

		if err := os.WriteFile(path, RenderScript(pythonPath, cs), 0o755); err != nil {
			return nil, fmt.Errorf("writing script %s: %w", cs.Name, err)
		}

		entry, err := DigestFile(path)
		if err != nil {
			return nil, err
		}

		entry.Path = filepath.Join("..", "..", "..", "bin", cs.Name)
		records = append(records, entry)
	}

	return records, nil
}
