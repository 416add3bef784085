package intent

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
)

var _ Dispatcher = (*RuleDispatcher)(nil)

// Template is one command pattern. Named capture groups become Params.
type Template struct {
	// Name labels the template in logs. Defaults to Command.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Command is the Intent command produced on a match.
	Command string `yaml:"command" json:"command"`

	// Pattern is an RE2 expression matched against the normalised
	// (lowercase, trimmed) transcript.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Confidence is reported on a match. Zero means 1.0.
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

type rule struct {
	name       string
	command    string
	re         *regexp.Regexp
	confidence float64
}

type ruleSet struct {
	rules []rule
	stop  *regexp.Regexp
}

// RuleDispatcher matches text against an ordered template list. Templates
// can be replaced at runtime with [RuleDispatcher.SetTemplates].
type RuleDispatcher struct {
	set atomic.Pointer[ruleSet]
}

// Option configures a RuleDispatcher.
type Option func(*options)

type options struct {
	stopPhrases []string
}

// WithStopPhrases replaces the phrases that abandon an interaction. Each
// phrase must make up the whole utterance to count.
func WithStopPhrases(phrases ...string) Option {
	return func(o *options) { o.stopPhrases = phrases }
}

// DefaultStopPhrases are recognised when no WithStopPhrases option is given.
var DefaultStopPhrases = []string{
	"stop", "cancel", "cancel that", "never mind", "nevermind",
	"forget it", "abort", "quit", "that's all", "shut up",
}

// NewRuleDispatcher compiles templates. It fails if any pattern is invalid.
func NewRuleDispatcher(templates []Template, opts ...Option) (*RuleDispatcher, error) {
	o := options{stopPhrases: DefaultStopPhrases}
	for _, opt := range opts {
		opt(&o)
	}
	rules, err := compile(templates)
	if err != nil {
		return nil, err
	}
	stop, err := compileStop(o.stopPhrases)
	if err != nil {
		return nil, err
	}
	d := &RuleDispatcher{}
	d.set.Store(&ruleSet{rules: rules, stop: stop})
	return d, nil
}

// SetTemplates atomically replaces the template list. On error the current
// templates stay in place.
func (d *RuleDispatcher) SetTemplates(templates []Template) error {
	rules, err := compile(templates)
	if err != nil {
		return err
	}
	cur := d.set.Load()
	d.set.Store(&ruleSet{rules: rules, stop: cur.stop})
	slog.Info("intent templates replaced", "count", len(rules))
	return nil
}

// Len returns the number of active templates.
func (d *RuleDispatcher) Len() int { return len(d.set.Load().rules) }

// Parse implements Dispatcher.
func (d *RuleDispatcher) Parse(text string) Intent {
	norm := normalize(text)
	if norm == "" {
		return Intent{Command: CommandUnknown}
	}
	for _, r := range d.set.Load().rules {
		m := r.re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		in := Intent{Command: r.command, Confidence: r.confidence, Template: r.name}
		for i, name := range r.re.SubexpNames() {
			if i == 0 || name == "" || m[i] == "" {
				continue
			}
			in.Params = append(in.Params, Param{Name: name, Value: m[i]})
		}
		return in
	}
	return Intent{Command: CommandUnknown}
}

// IsStop implements Dispatcher.
func (d *RuleDispatcher) IsStop(text string) bool {
	return d.set.Load().stop.MatchString(normalize(text))
}

func compile(templates []Template) ([]rule, error) {
	var errs []error
	rules := make([]rule, 0, len(templates))
	for i, t := range templates {
		if t.Command == "" {
			errs = append(errs, fmt.Errorf("intent: template %d: command is required", i))
			continue
		}
		if t.Command == CommandUnknown {
			errs = append(errs, fmt.Errorf("intent: template %d: command %q is reserved", i, CommandUnknown))
			continue
		}
		if t.Pattern == "" {
			errs = append(errs, fmt.Errorf("intent: template %d (%s): pattern is required", i, t.Command))
			continue
		}
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent: template %d (%s): %w", i, t.Command, err))
			continue
		}
		name := t.Name
		if name == "" {
			name = t.Command
		}
		conf := t.Confidence
		if conf <= 0 || conf > 1 {
			conf = 1
		}
		rules = append(rules, rule{name: name, command: t.Command, re: re, confidence: conf})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

func compileStop(phrases []string) (*regexp.Regexp, error) {
	if len(phrases) == 0 {
		return regexp.MustCompile(`$.^`), nil
	}
	alts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			alts = append(alts, regexp.QuoteMeta(p))
		}
	}
	re, err := regexp.Compile(`^(?:please\s+)?(?:` + strings.Join(alts, "|") + `)(?:\s+please)?$`)
	if err != nil {
		return nil, fmt.Errorf("intent: stop phrases: %w", err)
	}
	return re, nil
}
