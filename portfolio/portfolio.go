package portfolio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sunny/engine"
)

// Assignment is one engine launch: the engine and the cores it runs on.
type Assignment struct {
	Engine engine.ID `json:"engine"`
	Cores  int       `json:"cores"`
}

// Portfolio is the list of engines to launch for a single problem instance.
type Portfolio []Assignment

func (p Portfolio) Cores() int {
	total := 0
	for _, a := range p {
		total += a.Cores
	}
	return total
}

func (p Portfolio) Engines() []engine.ID {
	ids := make([]engine.ID, len(p))
	for i, a := range p {
		ids[i] = a.Engine
	}
	return ids
}

// Format writes one "engine_id,core_count" line per assignment.
func (p Portfolio) Format(w io.Writer) error {
	for _, a := range p {
		if _, err := fmt.Fprintf(w, "%s,%d\n", a.Engine, a.Cores); err != nil {
			return err
		}
	}
	return nil
}

func (p Portfolio) String() string {
	var b strings.Builder
	_ = p.Format(&b)
	return b.String()
}

// Default is the schedule used when neither a classifier nor a schedule file
// is available.
func Default() Portfolio {
	return Portfolio{
		{Engine: engine.CoinBC, Cores: 1},
		{Engine: engine.Gecode, Cores: 1},
	}
}

type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schedule line %d %q: %s", e.Line, e.Text, e.Reason)
}

// Parse reads "engine_id,core_count" lines. Blank lines are skipped.
func Parse(r io.Reader) (Portfolio, error) {
	var p Portfolio
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		id, coresStr, ok := strings.Cut(line, ",")
		if !ok {
			return nil, &ParseError{Line: n, Text: line, Reason: "line does not contain a ','"}
		}
		cores, err := strconv.Atoi(strings.TrimSpace(coresStr))
		if err != nil || cores < 0 {
			return nil, &ParseError{Line: n, Text: line, Reason: fmt.Sprintf("cores %q is not an unsigned integer", coresStr)}
		}
		p = append(p, Assignment{Engine: engine.ID(strings.TrimSpace(id)), Cores: cores})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

func Load(path string) (Portfolio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}
