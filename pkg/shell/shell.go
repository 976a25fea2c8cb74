// Package shell exposes a framehash instance through REPL commands.
package shell

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"framehash/pkg/changelog"
	"framehash/pkg/framehash"
	"framehash/pkg/repl"

	"github.com/goccy/go-json"
)

// Session holds the instance served by a REPL. Commands share the instance;
// load replaces it.
type Session struct {
	mtx  sync.RWMutex
	fh   *framehash.Framehash
	opts framehash.Options
}

// NewSession creates an empty instance with opts.
func NewSession(opts framehash.Options) (*Session, error) {
	fh, err := framehash.New(opts)
	if err != nil {
		return nil, err
	}
	return &Session{fh: fh, opts: opts}, nil
}

// Map returns the current instance.
func (s *Session) Map() *framehash.Framehash {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.fh
}

// with runs fn on the current instance. Instances are synchronized, so
// concurrent commands only exclude a load.
func (s *Session) with(fn func(fh *framehash.Framehash) (string, error)) (string, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return fn(s.fh)
}

// Close persists the instance when it has a masterpath and releases it.
func (s *Session) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var err error
	if s.fh.Masterpath() != "" {
		_, err = s.fh.Serialize(false)
	}
	return errors.Join(err, s.fh.Close())
}

// FramehashRepl returns the commands operating on the session's instance.
func FramehashRepl(s *Session) *repl.REPL {
	r := repl.NewRepl()
	add := func(trigger, help string, fn func(*Session, []string) (string, error)) {
		r.AddCommand(trigger, func(payload string, _ *repl.REPLConfig) (string, error) {
			return fn(s, strings.Fields(payload))
		}, help)
	}
	add("set", "Store a value. usage: set <key> <value>", HandleSet)
	add("get", "Look up a key. usage: get <key>", HandleGet)
	add("del", "Remove a key. usage: del <key>", HandleDel)
	add("inc", "Add to a numeric value. usage: inc <key> <delta>", HandleInc)
	add("len", "Print the number of items. usage: len", HandleLen)
	add("keys", "List keys as JSON. usage: keys [limit]", HandleKeys)
	add("items", "List items as JSON. usage: items [limit]", HandleItems)
	add("flush", "Write back dirty cache cells. usage: flush [invalidate]", HandleFlush)
	add("compact", "Shrink sparse subtrees. usage: compact", HandleCompact)
	add("save", "Persist to the masterpath. usage: save [force] [path]", HandleSave)
	add("backup", "Persist and copy the masterpath directory. usage: backup <dir>", HandleBackup)
	add("load", "Replace the instance with a persisted one. usage: load <path>", HandleLoad)
	add("info", "Describe the instance as JSON. usage: info", HandleInfo)
	add("hitrate", "Print cache hit rates per domain as JSON. usage: hitrate", HandleHitrate)
	add("math", "Apply arithmetic to all values. usage: math <mul|add|sqrt|pow|log|exp|decay|set|int|float|abs|sum|avg|stdev> [arg]", HandleMath)
	add("readonly", "Change or show readonly mode. usage: readonly [on|off]", HandleReadonly)
	return r
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Handle set.
func HandleSet(s *Session, fields []string) (string, error) {
	if len(fields) != 3 {
		return "", fmt.Errorf("usage: set <key> <value>")
	}
	key, err := ParseKey(fields[1])
	if err != nil {
		return "", fmt.Errorf("set error: %w", err)
	}
	v, err := ParseValue(fields[2])
	if err != nil {
		return "", fmt.Errorf("set error: %w", err)
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		vt, err := fh.Set(key, v)
		if err != nil {
			return "", fmt.Errorf("set error: %w", err)
		}
		return vt.String(), nil
	})
}

// Handle get.
func HandleGet(s *Session, fields []string) (string, error) {
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: get <key>")
	}
	key, err := ParseKey(fields[1])
	if err != nil {
		return "", fmt.Errorf("get error: %w", err)
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		v, err := fh.Get(key)
		if err != nil {
			return "", fmt.Errorf("get error: %w", err)
		}
		if v.Type() == framehash.ValueNull {
			return "not found", nil
		}
		return FormatValue(v), nil
	})
}

// Handle del.
func HandleDel(s *Session, fields []string) (string, error) {
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: del <key>")
	}
	key, err := ParseKey(fields[1])
	if err != nil {
		return "", fmt.Errorf("del error: %w", err)
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		vt, err := fh.Delete(key)
		if err != nil {
			return "", fmt.Errorf("del error: %w", err)
		}
		if vt == framehash.ValueNull {
			return "not found", nil
		}
		return "deleted " + vt.String(), nil
	})
}

// Handle inc.
func HandleInc(s *Session, fields []string) (string, error) {
	if len(fields) != 3 {
		return "", fmt.Errorf("usage: inc <key> <delta>")
	}
	key, err := ParseKey(fields[1])
	if err != nil {
		return "", fmt.Errorf("inc error: %w", err)
	}
	delta, err := ParseValue(fields[2])
	if err != nil {
		return "", fmt.Errorf("inc error: %w", err)
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		v, err := fh.Inc(key, delta)
		if err != nil {
			return "", fmt.Errorf("inc error: %w", err)
		}
		return FormatValue(v), nil
	})
}

// Handle len.
func HandleLen(s *Session, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", fmt.Errorf("usage: len")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		return strconv.FormatInt(fh.Len(), 10), nil
	})
}

func parseLimit(fields []string, usage string) (int64, error) {
	switch len(fields) {
	case 1:
		return 0, nil
	case 2:
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("usage: %s", usage)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("usage: %s", usage)
	}
}

// collect runs a readonly processor gathering cells with fn.
func collect[T any](fh *framehash.Framehash, limit int64, fn func(*framehash.Cell) T) ([]T, error) {
	out := []T{}
	p := framehash.NewProcessor(func(_ *framehash.Processor, c *framehash.Cell) int64 {
		out = append(out, fn(c))
		return 1
	})
	p.Limit = limit
	if _, err := fh.Process(p); err != nil {
		return nil, err
	}
	return out, nil
}

// Handle keys.
func HandleKeys(s *Session, fields []string) (string, error) {
	limit, err := parseLimit(fields, "keys [limit]")
	if err != nil {
		return "", err
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		keys, err := collect(fh, limit, func(c *framehash.Cell) string { return FormatKey(c.Key()) })
		if err != nil {
			return "", fmt.Errorf("keys error: %w", err)
		}
		return toJSON(keys)
	})
}

type itemJSON struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Handle items.
func HandleItems(s *Session, fields []string) (string, error) {
	limit, err := parseLimit(fields, "items [limit]")
	if err != nil {
		return "", err
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		items, err := collect(fh, limit, func(c *framehash.Cell) itemJSON {
			v := c.Value()
			return itemJSON{Key: FormatKey(c.Key()), Type: v.Type().String(), Value: FormatValue(v)}
		})
		if err != nil {
			return "", fmt.Errorf("items error: %w", err)
		}
		return toJSON(items)
	})
}

// Handle flush.
func HandleFlush(s *Session, fields []string) (string, error) {
	invalidate := len(fields) == 2 && fields[1] == "invalidate"
	if len(fields) > 2 || (len(fields) == 2 && !invalidate) {
		return "", fmt.Errorf("usage: flush [invalidate]")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		if err := fh.Flush(invalidate); err != nil {
			return "", fmt.Errorf("flush error: %w", err)
		}
		return "", nil
	})
}

// Handle compact.
func HandleCompact(s *Session, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", fmt.Errorf("usage: compact")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		changed, err := fh.Compactify()
		if err != nil {
			return "", fmt.Errorf("compact error: %w", err)
		}
		if changed {
			return "compacted", nil
		}
		return "nothing to compact", nil
	})
}

// Handle save.
func HandleSave(s *Session, fields []string) (string, error) {
	var force bool
	var path string
	for _, f := range fields[1:] {
		switch {
		case f == "force" && !force:
			force = true
		case path == "":
			path = f
		default:
			return "", fmt.Errorf("usage: save [force] [path]")
		}
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		if path != "" && path != fh.Masterpath() {
			fh.SetMasterpath(path)
			force = true
		}
		n, err := fh.Serialize(force)
		if err != nil {
			return "", fmt.Errorf("save error: %w", err)
		}
		if n == 0 {
			return "up to date", nil
		}
		return fmt.Sprintf("saved %s (%d)", fh.Masterpath(), n), nil
	})
}

// Handle backup. The masterpath directory holds the map file and its
// deltas, so the copy can be loaded on its own.
func HandleBackup(s *Session, fields []string) (string, error) {
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: backup <dir>")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		if fh.Masterpath() == "" {
			return "", framehash.ErrNoMasterpath
		}
		if _, err := fh.Serialize(false); err != nil {
			return "", fmt.Errorf("backup error: %w", err)
		}
		if err := changelog.Snapshot(filepath.Dir(fh.Masterpath()), fields[1]); err != nil {
			return "", fmt.Errorf("backup error: %w", err)
		}
		return "backup written to " + fields[1], nil
	})
}

// Handle load.
func HandleLoad(s *Session, fields []string) (string, error) {
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: load <path>")
	}
	loaded, err := framehash.Load(fields[1], s.opts)
	if err != nil {
		return "", fmt.Errorf("load error: %w", err)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	old := s.fh
	s.fh = loaded
	if err := old.Close(); err != nil {
		return "", fmt.Errorf("load error: closing previous instance: %w", err)
	}
	return fmt.Sprintf("loaded %d items", loaded.Len()), nil
}

// Handle info.
func HandleInfo(s *Session, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", fmt.Errorf("usage: info")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		return toJSON(fh.Info())
	})
}

// Handle hitrate.
func HandleHitrate(s *Session, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", fmt.Errorf("usage: hitrate")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		return toJSON(fh.Hitrate())
	})
}

// Handle math.
func HandleMath(s *Session, fields []string) (string, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return "", fmt.Errorf("usage: math <op> [arg]")
	}
	op := fields[1]
	var arg float64
	hasArg := len(fields) == 3
	if hasArg {
		var err error
		if arg, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return "", fmt.Errorf("math error: %w", err)
		}
	}
	switch op {
	case "mul", "add", "pow", "log", "decay", "set":
		if !hasArg {
			return "", fmt.Errorf("math error: %s needs an argument", op)
		}
	case "exp":
	default:
		if hasArg {
			return "", fmt.Errorf("math error: %s takes no argument", op)
		}
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		m := fh.Math()
		var (
			n   int64
			x   float64
			err error
		)
		switch op {
		case "sum":
			x, n, err = m.Sum()
		case "avg":
			x, n, err = m.Avg()
		case "stdev":
			x, n, err = m.Stdev()
		default:
			n, err = applyMath(m, op, arg)
			if err != nil {
				return "", fmt.Errorf("math error: %w", err)
			}
			return fmt.Sprintf("%d values changed", n), nil
		}
		if err != nil {
			return "", fmt.Errorf("math error: %w", err)
		}
		return fmt.Sprintf("%s over %d values", strconv.FormatFloat(x, 'g', -1, 64), n), nil
	})
}

func applyMath(m framehash.Math, op string, arg float64) (int64, error) {
	switch op {
	case "mul":
		return m.Mul(arg)
	case "add":
		return m.Add(arg)
	case "sqrt":
		return m.Sqrt()
	case "pow":
		return m.Pow(arg)
	case "log":
		return m.Log(arg)
	case "exp":
		return m.Exp(arg)
	case "decay":
		return m.Decay(arg)
	case "set":
		return m.Set(arg)
	case "int":
		return m.Int()
	case "float":
		return m.Float()
	case "abs":
		return m.Abs()
	default:
		return -1, fmt.Errorf("unknown operation %q", op)
	}
}

// Handle readonly.
func HandleReadonly(s *Session, fields []string) (string, error) {
	if len(fields) > 2 {
		return "", fmt.Errorf("usage: readonly [on|off]")
	}
	return s.with(func(fh *framehash.Framehash) (string, error) {
		if len(fields) == 1 {
			return strconv.FormatBool(fh.IsReadonly()), nil
		}
		var depth int
		var err error
		switch fields[1] {
		case "on":
			depth, err = fh.SetReadonly()
		case "off":
			depth, err = fh.ClearReadonly()
		default:
			return "", fmt.Errorf("usage: readonly [on|off]")
		}
		if err != nil {
			return "", fmt.Errorf("readonly error: %w", err)
		}
		return fmt.Sprintf("readonly depth %d", depth), nil
	})
}
