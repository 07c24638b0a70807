package debug

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/psbridge/psbridge/internal/pwsh"
)

// CounterSource hands out monotonically increasing ids. The translator
// uses one to name the global hit counter variable of each combined
// condition/hit-count action, keeping counters unique per session
// instead of per process.
type CounterSource struct {
	n atomic.Int64
}

// Next returns the next id.
func (c *CounterSource) Next() int64 {
	return c.n.Add(1)
}

// TranslationInfo is the engine-native creation recipe for a client
// breakpoint: kind plus the kind-specific parameters and the compiled
// action script.
type TranslationInfo struct {
	Kind         pwsh.BreakpointKind
	Action       string
	Name         string
	VariableMode pwsh.VariableAccessMode
	FilePath     string
	Line         int
	Column       int
}

// Native converts the recipe into a native breakpoint ready for the
// debugger handle (ID unassigned).
func (info *TranslationInfo) Native(enabled bool) *pwsh.Breakpoint {
	bp := &pwsh.Breakpoint{
		Kind:    info.Kind,
		Enabled: enabled,
		Action:  info.Action,
	}
	switch info.Kind {
	case pwsh.KindLine:
		bp.Script = info.FilePath
		bp.Line = info.Line
		bp.Column = info.Column
	case pwsh.KindCommand:
		bp.Command = info.Name
	case pwsh.KindVariable:
		bp.Variable = info.Name
		bp.AccessMode = info.VariableMode
	}
	return bp
}

// Translator converts client breakpoints into native creation recipes.
type Translator struct {
	counter *CounterSource
}

// NewTranslator creates a translator using the given counter source.
func NewTranslator(counter *CounterSource) *Translator {
	if counter == nil {
		counter = &CounterSource{}
	}
	return &Translator{counter: counter}
}

// scriptExtensions are the file extensions accepted for line breakpoints.
var scriptExtensions = map[string]bool{
	".ps1":  true,
	".psm1": true,
	".psd1": true,
}

// Translate builds the native recipe for a client breakpoint.
//
// A nil info with a nil error means the breakpoint is untranslatable
// and silently dropped (a location that is neither an untitled buffer
// nor a script file, or a command breakpoint with no name). A nil info
// with an *InvalidExpressionError means the condition or hit count was
// rejected; the caller marks the breakpoint unverified with the error's
// message instead of failing the batch.
func (t *Translator) Translate(bp ClientBreakpoint) (*TranslationInfo, error) {
	action, err := t.buildAction(bp)
	if err != nil {
		return nil, err
	}

	switch {
	case bp.Location != nil:
		path, ok := breakpointPath(bp.Location.URI)
		if !ok {
			return nil, nil
		}
		column := bp.Location.Column
		if column < 0 {
			column = 0
		}
		return &TranslationInfo{
			Kind:     pwsh.KindLine,
			Action:   action,
			FilePath: path,
			Line:     bp.Location.Line,
			Column:   column,
		}, nil

	case strings.HasPrefix(bp.FunctionName, "$"):
		name, mode := parseVariableName(bp.FunctionName)
		return &TranslationInfo{
			Kind:         pwsh.KindVariable,
			Action:       action,
			Name:         name,
			VariableMode: mode,
		}, nil

	default:
		if strings.TrimSpace(bp.FunctionName) == "" {
			return nil, nil
		}
		return &TranslationInfo{
			Kind:   pwsh.KindCommand,
			Action: action,
			Name:   bp.FunctionName,
		}, nil
	}
}

// breakpointPath maps a document URI to the path the engine should
// break on. Untitled buffers keep the raw URI text; file URIs map to a
// filesystem path and must carry a script extension.
func breakpointPath(uri string) (string, bool) {
	if strings.HasPrefix(uri, "untitled:") {
		return uri, true
	}

	path := uri
	if strings.HasPrefix(uri, "file://") {
		path = strings.TrimPrefix(uri, "file://")
		// Windows-style file:///c:/... carries a leading slash.
		if len(path) > 2 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
	}

	if !scriptExtensions[strings.ToLower(filepath.Ext(path))] {
		return "", false
	}
	return path, true
}

// parseVariableName splits "$name!suffix" into the variable name and
// access mode. The suffix is one or two characters after a literal '!':
// "R" for read, "W" for write, "RW" or "WR" for both. No suffix means
// read-write.
func parseVariableName(functionName string) (string, pwsh.VariableAccessMode) {
	name := strings.TrimPrefix(functionName, "$")

	idx := strings.LastIndex(name, "!")
	if idx < 0 {
		return name, pwsh.AccessReadWrite
	}

	switch strings.ToUpper(name[idx+1:]) {
	case "R":
		return name[:idx], pwsh.AccessRead
	case "W":
		return name[:idx], pwsh.AccessWrite
	case "RW", "WR", "":
		return name[:idx], pwsh.AccessReadWrite
	default:
		// Not a recognized suffix; treat the '!' as part of the name.
		return name, pwsh.AccessReadWrite
	}
}

// buildAction compiles the condition, hit count, and log message into
// the breakpoint's action script. Empty string means no action.
func (t *Translator) buildAction(bp ClientBreakpoint) (string, error) {
	cond := strings.TrimSpace(bp.Condition)
	hitText := strings.TrimSpace(bp.HitCondition)
	logMsg := strings.TrimSpace(bp.LogMessage)

	if cond == "" && hitText == "" && logMsg == "" {
		return "", nil
	}

	if cond != "" {
		if mistaken, correct, found := findMistakenOperator(cond); found {
			return "", NewInvalidExpressionError(cond,
				"Error processing breakpoint condition: Use '%s' instead of '%s'.", correct, mistaken)
		}
		// Advanced mode: a condition that already contains break or
		// continue drives the debugger itself and is passed through
		// unmodified.
		if containsBreakOrContinue(cond) {
			return cond, nil
		}
	}

	hitCount := 0
	if hitText != "" {
		parsed, err := strconv.Atoi(hitText)
		if err != nil || parsed <= 0 {
			return "", NewInvalidExpressionError(hitText,
				"Error processing hit count '%s': expected a positive integer.", hitText)
		}
		hitCount = parsed
	}

	// The innermost statement: break, or write the log message and let
	// execution continue.
	body := "break"
	if logMsg != "" {
		body = fmt.Sprintf("Write-Host %s", interpolateLogMessage(logMsg))
	}

	switch {
	case cond == "" && hitCount == 0:
		return body, nil
	case cond == "" && hitCount > 0:
		return fmt.Sprintf("if ($_.HitCount -eq %d) { %s }", hitCount, body), nil
	case cond != "" && hitCount == 0:
		return fmt.Sprintf("if (%s) { %s }", cond, body), nil
	default:
		// Condition and hit count combined: the engine's HitCount only
		// advances when the breakpoint actually triggers, so the action
		// keeps its own counter of satisfied evaluations.
		counterVar := fmt.Sprintf("$global:__psbridgeHitCount%d", t.counter.Next())
		return fmt.Sprintf("if (%s) { if (++%s -eq %d) { %s } }", cond, counterVar, hitCount, body), nil
	}
}

var logExprPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// interpolateLogMessage renders a logpoint message as a double-quoted
// PowerShell string, turning {expr} placeholders into $(expr)
// subexpressions.
func interpolateLogMessage(msg string) string {
	escaped := strings.ReplaceAll(msg, "`", "``")
	escaped = strings.ReplaceAll(escaped, `"`, "`\"")
	interpolated := logExprPattern.ReplaceAllString(escaped, "$$($1)")
	return `"` + interpolated + `"`
}
