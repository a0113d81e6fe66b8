package morktest

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/GriffinCanCode/morkclient/protocol"
)

type runFunc func(rec *record) (*protocol.Result, *protocol.ErrorInfo)

type job struct {
	rec      *record
	kind     protocol.Kind
	run      runFunc
	finished chan struct{}
}

func (s *Server) work() {
	for {
		select {
		case j := <-s.queue:
			s.process(j)
		case <-s.done:
			return
		}
	}
}

func (s *Server) process(j *job) {
	defer close(j.finished)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-s.done:
			return
		}
	}

	if s.delay > 0 {
		j.rec.running(nil)
		if !s.sleep(s.delay) {
			return
		}
	}

	result, info := j.run(j.rec)
	if info != nil {
		j.rec.fail(info)
		return
	}
	if j.kind == protocol.KindStop {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}
	j.rec.complete(result)
}

func (s *Server) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// prepare validates a submission and returns the work to run. A non-zero
// status code rejects the submission synchronously.
func (s *Server) prepare(kind protocol.Kind, env protocol.Envelope) (runFunc, int, protocol.ErrorInfo) {
	for _, seg := range env.Namespace {
		if seg == "" || strings.Contains(seg, "/") {
			return nil, http.StatusBadRequest, protocol.ErrorInfo{
				Code: protocol.CodeProtocol, Message: fmt.Sprintf("invalid namespace segment %q", seg)}
		}
	}
	ns := nsKey(env.Namespace)
	p := env.Payload

	switch kind {
	case protocol.KindUpload:
		exprs, err := parseAll(p.Facts)
		if err != nil || len(exprs) == 0 {
			return nil, http.StatusBadRequest, invalid("facts", err)
		}
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			s.store.add(ns, exprs)
			return &protocol.Result{}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindDownload:
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			return &protocol.Result{Data: strings.Join(s.Facts(env.Namespace...), "\n")}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindTransform:
		if len(p.Patterns) == 0 || len(p.Patterns) != len(p.Templates) {
			return nil, http.StatusUnprocessableEntity, protocol.ErrorInfo{
				Code: protocol.CodeProtocol, Message: "patterns and templates must pair up"}
		}
		patterns, err := parseEach(p.Patterns)
		if err != nil {
			return nil, http.StatusBadRequest, invalid("pattern", err)
		}
		templates, err := parseEach(p.Templates)
		if err != nil {
			return nil, http.StatusBadRequest, invalid("template", err)
		}
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			n := s.store.rewrite(ns, patterns, templates)
			return &protocol.Result{Data: fmt.Sprintf("%d rewritten", n)}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindExec:
		if p.Thread == "" {
			return nil, http.StatusBadRequest, protocol.ErrorInfo{
				Code: protocol.CodeProtocol, Message: "missing thread"}
		}
		return func(rec *record) (*protocol.Result, *protocol.ErrorInfo) {
			return s.execThread(rec, ns, p.Thread)
		}, 0, protocol.ErrorInfo{}

	case protocol.KindExplore:
		var prefix []string
		if p.Token != "" {
			prefix = strings.Split(p.Token, tokenSep)
		}
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			children := s.store.explore(ns, prefix)
			entries := make([]protocol.ExploreEntry, len(children))
			for i, child := range children {
				entries[i] = protocol.ExploreEntry{
					Token:  strings.Join(child.prefix, tokenSep),
					Values: []string{child.value},
				}
			}
			return &protocol.Result{Entries: entries}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindImport:
		u, code, info := parseURI(p.URI, "file", "http", "https")
		if code != 0 {
			return nil, code, info
		}
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			return s.importFrom(ns, u)
		}, 0, protocol.ErrorInfo{}

	case protocol.KindExport:
		u, code, info := parseURI(p.URI, "file")
		if code != 0 {
			return nil, code, info
		}
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			data := strings.Join(s.Facts(env.Namespace...), "\n") + "\n"
			if err := os.WriteFile(u.Path, []byte(data), 0o644); err != nil {
				return nil, &protocol.ErrorInfo{Code: protocol.CodeFailed, Message: err.Error()}
			}
			return &protocol.Result{}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindClear:
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			s.store.clear(ns)
			return &protocol.Result{}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindStop:
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			return &protocol.Result{Data: "stopping"}, nil
		}, 0, protocol.ErrorInfo{}

	case protocol.KindStatus:
		return func(*record) (*protocol.Result, *protocol.ErrorInfo) {
			return &protocol.Result{Data: "ready"}, nil
		}, 0, protocol.ErrorInfo{}
	}

	return nil, http.StatusNotFound, protocol.ErrorInfo{
		Code: protocol.CodeProtocol, Message: "unknown kind " + string(kind)}
}

// tokenSep joins explore prefixes; elements never contain tabs.
const tokenSep = "\t"

func invalid(what string, err error) protocol.ErrorInfo {
	msg := "empty " + what
	if err != nil {
		msg = fmt.Sprintf("malformed %s: %v", what, err)
	}
	return protocol.ErrorInfo{Code: protocol.CodeProtocol, Message: msg}
}

func parseEach(texts []string) ([]expr, error) {
	out := make([]expr, len(texts))
	for i, t := range texts {
		e, err := parseExpr(t)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func parseURI(raw string, schemes ...string) (*url.URL, int, protocol.ErrorInfo) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, http.StatusBadRequest, protocol.ErrorInfo{
			Code: protocol.CodeProtocol, Message: fmt.Sprintf("invalid uri %q", raw)}
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return u, 0, protocol.ErrorInfo{}
		}
	}
	return nil, http.StatusNotImplemented, protocol.ErrorInfo{
		Code: protocol.CodeUnsupported, Message: "scheme " + u.Scheme + " not supported"}
}

func (s *Server) importFrom(ns string, u *url.URL) (*protocol.Result, *protocol.ErrorInfo) {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(u.Scheme, "file") {
		data, err = os.ReadFile(u.Path)
	} else {
		data, err = fetch(u.String())
	}
	if err != nil {
		return nil, &protocol.ErrorInfo{Code: protocol.CodeFailed, Message: err.Error()}
	}

	exprs, err := parseAll(string(data))
	if err != nil {
		return nil, &protocol.ErrorInfo{Code: protocol.CodeProtocol, Message: err.Error()}
	}
	s.store.add(ns, exprs)
	return &protocol.Result{Data: fmt.Sprintf("%d facts", len(exprs))}, nil
}

func fetch(rawURL string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type execStep struct {
	key       string
	order     string
	patterns  []expr
	templates []expr
}

func (s *Server) execThread(rec *record, ns, thread string) (*protocol.Result, *protocol.ErrorInfo) {
	var steps []execStep
	for _, fact := range s.store.facts(ns) {
		if step, ok := parseExecStep(fact, thread); ok {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return nil, &protocol.ErrorInfo{
			Code: protocol.CodeUnknownThread, Message: "no exec facts for thread " + thread}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].order < steps[j].order })

	for i, step := range steps {
		s.store.remove(ns, step.key)
		s.store.rewrite(ns, step.patterns, step.templates)
		rec.running(&protocol.Progress{Step: i + 1, Total: len(steps), Message: step.key})
		if s.delay > 0 && !s.sleep(s.delay) {
			return nil, &protocol.ErrorInfo{Code: protocol.CodeStopped, Message: "server closing"}
		}
	}
	return &protocol.Result{Data: fmt.Sprintf("%d steps", len(steps))}, nil
}

// parseExecStep recognises (exec (<thread> ...) (, p...) (, t...)).
func parseExecStep(fact expr, thread string) (execStep, bool) {
	if !fact.isList || len(fact.list) != 4 || fact.list[0].isList || fact.list[0].atom != "exec" {
		return execStep{}, false
	}
	head := fact.list[1]
	switch {
	case !head.isList && head.atom == thread:
	case head.isList && len(head.list) > 0 && !head.list[0].isList && head.list[0].atom == thread:
	default:
		return execStep{}, false
	}

	patterns, ok := commaList(fact.list[2])
	if !ok {
		return execStep{}, false
	}
	templates, ok := commaList(fact.list[3])
	if !ok || len(patterns) != len(templates) || len(patterns) == 0 {
		return execStep{}, false
	}
	return execStep{key: fact.String(), order: head.String(), patterns: patterns, templates: templates}, true
}

func commaList(e expr) ([]expr, bool) {
	if !e.isList || len(e.list) == 0 || e.list[0].isList || e.list[0].atom != "," {
		return nil, false
	}
	return e.list[1:], true
}
