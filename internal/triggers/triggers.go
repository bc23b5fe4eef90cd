// Package triggers implements the command pipeline's trigger engine:
// prefix matching, verb dispatch, and the builtin/llm/execute/plugin
// action handlers. Modeled as a tagged-variant matcher over
// triggerstore's data (verbs and actions are data, not code), per the
// original spec's "dynamic dispatch by string action" re-architecture
// note.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sigreer/voicepipe/internal/llmclient"
	"github.com/sigreer/voicepipe/internal/triggerstore"
)

// LLMCompleter is the subset of llmclient.Client the engine needs;
// accepting an interface keeps the engine testable without a live
// OpenAI-compatible endpoint.
type LLMCompleter interface {
	Complete(ctx context.Context, req llmclient.Request) (*llmclient.Result, error)
}

// PluginRegistry resolves "module" plugins registered at compile time,
// the systems-language alternative to runtime module loading the
// original spec's design notes call for.
type PluginRegistry map[string]func(args string) (string, map[string]any, error)

// Dependencies the engine needs beyond the trigger/verb/profile data
// itself.
type Dependencies struct {
	LLM                 LLMCompleter
	Plugins             PluginRegistry
	ConfigDir           string
	ShellAllow          bool
	ShellTimeoutSeconds int
	PluginAllow         bool
}

// Meta is the metadata envelope returned alongside the resulting text.
type Meta struct {
	OK      bool           `json:"ok"`
	Trigger string         `json:"trigger,omitempty"`
	Action  string         `json:"action,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Apply runs the full trigger pipeline over text. It never loses user
// text: on any handler error, remainder (or text, if no trigger
// matched) is returned as-is alongside an ok:false Meta.
func Apply(ctx context.Context, text string, cfg *triggerstore.CommandsConfig, deps Dependencies) (string, Meta) {
	trigger, action, remainder, matched := matchTrigger(text, cfg)
	if !matched {
		return text, Meta{OK: true, Reason: "no-trigger-match"}
	}

	out, meta, err := dispatchAction(ctx, action, remainder, cfg, deps)
	if err != nil {
		return remainder, Meta{OK: false, Trigger: trigger, Action: action, Error: err.Error()}
	}
	return out, Meta{OK: true, Trigger: trigger, Action: action, Meta: meta}
}

var separators = []string{" ", ",", ":", ";", "."}

// matchTrigger iterates cfg.TriggerOrder (the configured map's
// insertion order) and returns the first trigger whose prefix matches.
func matchTrigger(text string, cfg *triggerstore.CommandsConfig) (trigger, action, remainder string, matched bool) {
	lower := strings.ToLower(text)
	for _, key := range cfg.TriggerOrder {
		if strings.EqualFold(text, key) {
			return key, cfg.Triggers[key], "", true
		}
		for _, sep := range separators {
			prefix := key + sep
			if strings.HasPrefix(lower, prefix) {
				rest := strings.TrimLeft(text[len(prefix):], " \t")
				return key, cfg.Triggers[key], rest, true
			}
		}
	}
	return "", "", "", false
}

func dispatchAction(ctx context.Context, action, remainder string, cfg *triggerstore.CommandsConfig, deps Dependencies) (string, map[string]any, error) {
	switch action {
	case "strip":
		return strings.TrimSpace(remainder), nil, nil
	case "zwingli":
		return runZwingli(ctx, remainder, deps)
	case "dispatch":
		return runDispatch(ctx, remainder, cfg, deps)
	default:
		return "", nil, fmt.Errorf("triggers: unknown trigger action %q", action)
	}
}

func runZwingli(ctx context.Context, remainder string, deps Dependencies) (string, map[string]any, error) {
	if deps.LLM == nil {
		return "", nil, fmt.Errorf("triggers: no LLM client configured for zwingli mode")
	}
	result, err := deps.LLM.Complete(ctx, llmclient.Request{
		SystemPrompt: llmclient.DefaultZwingliSystemPrompt,
		UserPrompt:   llmclient.DefaultZwingliUserPrompt,
		Text:         strings.TrimSpace(remainder),
	})
	if err != nil {
		return "", nil, err
	}
	return result.Text, resultMeta(result), nil
}

func resultMeta(r *llmclient.Result) map[string]any {
	return map[string]any{
		"backend":       r.Backend,
		"model":         r.Model,
		"temperature":   r.Temperature,
		"duration_ms":   r.DurationMS,
		"provider":      r.Provider,
		"finish_reason": r.FinishReason,
	}
}

func runDispatch(ctx context.Context, remainder string, cfg *triggerstore.CommandsConfig, deps Dependencies) (string, map[string]any, error) {
	verbName, args := splitVerb(remainder)
	verb, ok := cfg.Verbs[verbName]

	if !ok || !verb.Enabled {
		fallbackAction := cfg.Dispatch.UnknownVerb
		if fallbackAction == "" {
			fallbackAction = "strip"
		}
		out, innerMeta, err := dispatchAction(ctx, fallbackAction, remainder, cfg, deps)
		if err != nil {
			return "", nil, err
		}
		meta := map[string]any{"mode": "unknown-verb", "action": fallbackAction, "disabled_verb": verbName}
		if innerMeta != nil {
			meta["handler_meta"] = innerMeta
		}
		return out, meta, nil
	}

	switch verb.Type {
	case "builtin":
		out, innerMeta, err := dispatchAction(ctx, verb.Action, args, cfg, deps)
		if err != nil {
			return "", nil, err
		}
		return out, mergeVerbMeta("verb", verbName, "builtin", verb.Action, innerMeta), nil

	case "llm":
		profile, ok := cfg.LLMProfiles[strings.ToLower(verb.Profile)]
		if !ok {
			return "", nil, fmt.Errorf("triggers: verb %q references unknown llm profile %q", verbName, verb.Profile)
		}
		if deps.LLM == nil {
			return "", nil, fmt.Errorf("triggers: no LLM client configured")
		}
		result, err := deps.LLM.Complete(ctx, llmclient.Request{
			SystemPrompt: profile.SystemPrompt,
			UserPrompt:   profile.UserPromptTemplate,
			Text:         args,
			Model:        profile.Model,
			Temperature:  profile.Temperature,
		})
		if err != nil {
			return "", nil, err
		}
		return result.Text, mergeVerbMeta("verb", verbName, "llm", "llm", resultMeta(result)), nil

	case "execute":
		if !deps.ShellAllow {
			return "", nil, fmt.Errorf("triggers: shell verb %q requires VOICEPIPE_SHELL_ALLOW=1", verbName)
		}
		out, handlerMeta := runShell(ctx, args, verb, deps)
		return out, mergeVerbMeta("verb", verbName, "execute", "execute", handlerMeta), nil

	case "plugin":
		if !deps.PluginAllow {
			return "", nil, fmt.Errorf("triggers: plugin verb %q requires VOICEPIPE_PLUGIN_ALLOW=1", verbName)
		}
		out, handlerMeta, err := runPlugin(ctx, args, verb, deps)
		if err != nil {
			return "", nil, err
		}
		return out, mergeVerbMeta("verb", verbName, "plugin", "plugin", handlerMeta), nil

	default:
		return "", nil, fmt.Errorf("triggers: verb %q has unknown type %q", verbName, verb.Type)
	}
}

func mergeVerbMeta(mode, verb, verbType, action string, handlerMeta map[string]any) map[string]any {
	meta := map[string]any{"mode": mode, "verb": verb, "verb_type": verbType, "action": action}
	if handlerMeta != nil {
		meta["handler_meta"] = handlerMeta
	}
	return meta
}

// splitVerb takes the first whitespace-/punctuation-terminated token
// as the lowercased verb and returns the rest (leading separators
// trimmed) as args.
func splitVerb(remainder string) (verb, args string) {
	remainder = strings.TrimLeft(remainder, " \t")
	i := 0
	for i < len(remainder) && !isVerbTerminator(remainder[i]) {
		i++
	}
	verb = strings.ToLower(remainder[:i])
	rest := strings.TrimLeft(remainder[i:], " \t,;:.")
	return verb, rest
}

func isVerbTerminator(b byte) bool {
	switch b {
	case ' ', '\t', ',', ';', ':', '.':
		return true
	default:
		return false
	}
}

func runShell(ctx context.Context, command string, verb triggerstore.VerbConfig, deps Dependencies) (string, map[string]any) {
	timeoutSeconds := verb.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = deps.ShellTimeoutSeconds
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	if v := os.Getenv("VOICEPIPE_SHELL_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := parsePositiveInt(v); err == nil {
			timeoutSeconds = seconds
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", map[string]any{"returncode": nil, "error": "timeout"}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		out = strings.TrimSpace(stderr.String())
	}

	returncode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		returncode = exitErr.ExitCode()
	} else if err != nil {
		returncode = -1
	}

	return out, map[string]any{"returncode": returncode}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	return n, nil
}

type pluginRequest struct {
	Args string `json:"args"`
}

type pluginResponse struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta"`
}

// runPlugin resolves and invokes a plugin callable. Module plugins
// dispatch to the compile-time PluginRegistry (the shipped-verb
// alternative the design notes describe); path plugins are invoked as
// a subprocess ("plugin <args-json-on-stdin>" returning {text, meta}
// on stdout), the portable alternative.
//
// The original implementation cached file-loaded callables by (path,
// mtime_ns); that cache has no equivalent here because each call spawns
// a fresh subprocess rather than holding a loaded callable object, so
// there is nothing in-process to cache.
func runPlugin(ctx context.Context, args string, verb triggerstore.VerbConfig, deps Dependencies) (string, map[string]any, error) {
	if verb.Plugin == nil {
		return "", nil, fmt.Errorf("triggers: plugin verb has no plugin config")
	}

	if verb.Plugin.Module != "" {
		fn, ok := deps.Plugins[verb.Plugin.Module+"."+verb.Plugin.Callable]
		if !ok {
			return "", nil, fmt.Errorf("triggers: plugin module %q callable %q is not registered", verb.Plugin.Module, verb.Plugin.Callable)
		}
		text, meta, err := fn(args)
		if err != nil {
			return "", nil, fmt.Errorf("triggers: plugin %q failed: %w", verb.Plugin.Module, err)
		}
		return text, meta, nil
	}

	if verb.Plugin.Path == "" {
		return "", nil, fmt.Errorf("triggers: plugin verb has neither module nor path set")
	}
	if !strings.HasSuffix(verb.Plugin.Path, ".py") {
		return "", nil, fmt.Errorf("triggers: file-loaded plugin path %q must end in .py", verb.Plugin.Path)
	}

	resolved := filepath.Join(deps.ConfigDir, verb.Plugin.Path)
	canonical, err := filepath.Abs(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("triggers: resolve plugin path: %w", err)
	}
	configRoot, err := filepath.Abs(deps.ConfigDir)
	if err != nil {
		return "", nil, fmt.Errorf("triggers: resolve config dir: %w", err)
	}
	if !strings.HasPrefix(canonical, configRoot+string(filepath.Separator)) {
		return "", nil, fmt.Errorf("triggers: plugin path %q escapes the config dir", verb.Plugin.Path)
	}

	payload, err := json.Marshal(pluginRequest{Args: args})
	if err != nil {
		return "", nil, fmt.Errorf("triggers: encode plugin request: %w", err)
	}

	cmd := exec.CommandContext(ctx, "python3", canonical)
	cmd.Stdin = strings.NewReader(string(payload))
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", nil, fmt.Errorf("triggers: plugin %s failed: %w (stderr: %s)", verb.Plugin.Path, err, stderr.String())
	}

	raw := strings.TrimSpace(stdout.String())
	var resp pluginResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		// Plain string/bytes output, normalized to a (text, nil) pair.
		return raw, nil, nil
	}
	return resp.Text, resp.Meta, nil
}
