package docker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// DockerignoreFile is the name of the exclusion file read from the root of
// a build context.
const DockerignoreFile = ".dockerignore"

// ignoreRule is one compiled .dockerignore line.
type ignoreRule struct {
	pattern string
	re      *regexp.Regexp
	negate  bool
}

// ignoreRules applies .dockerignore semantics: rules are evaluated in order
// and the last matching one wins, a "!" rule re-includes what earlier rules
// excluded, and a rule that matches a directory also matches everything
// below it.
type ignoreRules []ignoreRule

// readDockerignore loads the rules of contextDir. A context without a
// .dockerignore has no rules.
func readDockerignore(contextDir string) (ignoreRules, error) {
	f, err := os.Open(filepath.Join(contextDir, DockerignoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rules, err := parseIgnoreRules(f)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", DockerignoreFile, err)
	}
	return rules, nil
}

func parseIgnoreRules(r io.Reader) (ignoreRules, error) {
	var rules ignoreRules
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = strings.TrimSpace(line[1:])
		}
		line = path.Clean(strings.TrimPrefix(filepath.ToSlash(line), "/"))
		if line == "." || line == "" {
			continue
		}

		re, err := compileIgnorePattern(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rule.pattern = line
		rule.re = re
		rules = append(rules, rule)
	}
	return rules, scanner.Err()
}

// compileIgnorePattern translates a .dockerignore pattern into an anchored
// regular expression. "*" and "?" stay within one path element, "**"
// matches any number of elements.
func compileIgnorePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			i++
			if i+1 < len(pattern) && pattern[i+1] == '/' {
				i++
				b.WriteString("(.*/)?")
			} else {
				b.WriteString(".*")
			}
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '\\' && i+1 < len(pattern):
			i++
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		case c == '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated character class in %q", pattern)
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return re, nil
}

// matches reports whether the rule matches rel or one of its parent
// directories.
func (r ignoreRule) matches(rel string) bool {
	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		if r.re.MatchString(p) {
			return true
		}
	}
	return false
}

// excluded reports whether the slash-separated context path rel is left
// out of the build context.
func (rs ignoreRules) excluded(rel string) bool {
	out := false
	for _, r := range rs {
		if r.matches(rel) {
			out = !r.negate
		}
	}
	return out
}

// hasNegation reports whether any rule re-includes paths. Without one, an
// excluded directory can be skipped as a whole.
func (rs ignoreRules) hasNegation() bool {
	for _, r := range rs {
		if r.negate {
			return true
		}
	}
	return false
}
