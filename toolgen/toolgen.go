// Package toolgen drafts candidate plugin submissions from natural-language
// requests via an injected text-generation model. A draft is never invocable:
// it only becomes a tool after binding and a trust-gated registry submission.
package toolgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
)

const draftInstructions = `You write small, well documented tool plugins.
Given a capability request, return only the plugin source code. The code must
document its purpose, declare explicit function signatures and handle errors
explicitly. Do not include any prose outside the code.`

// Draft is a generated plugin candidate: descriptor plus raw source. The
// caller binds it to an executable handler and submits it to the registry.
type Draft struct {
	Descriptor core.ToolDescriptor
	Source     string
}

// Options configures a Generator.
type Options struct {
	// Author is recorded on every drafted descriptor.
	Author string
	// Version stamps drafted descriptors.
	Version string
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Generator produces plugin drafts through a model.
type Generator struct {
	model model.Model
	opts  Options
}

// NewGenerator constructs a Generator over the given model.
func NewGenerator(m model.Model, optFns ...func(o *Options)) *Generator {
	opts := Options{
		Author:  "toolgen",
		Version: "0.1.0",
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{model: m, opts: opts}
}

// Draft asks the model for plugin source implementing the requested
// capability and wraps it into a descriptor carrying the declared tags.
func (g *Generator) Draft(ctx context.Context, request string, tags []string) (*Draft, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("%w: empty capability request", core.ErrInvalidTask)
	}

	resp, err := g.model.Generate(ctx, model.Request{
		Instructions: draftInstructions,
		Prompt:       request,
	})
	if err != nil {
		return nil, fmt.Errorf("draft generation: %w", err)
	}
	source := strings.TrimSpace(resp.Text)
	if source == "" {
		return nil, fmt.Errorf("draft generation: model returned empty source")
	}

	name := slugify(request)
	g.opts.Logger.Info("toolgen.drafted", "plugin", name, "tags", strings.Join(tags, ","))

	return &Draft{
		Descriptor: core.ToolDescriptor{
			Name:        name,
			Description: request,
			Tags:        tags,
			Source:      source,
			Author:      g.opts.Author,
			Version:     g.opts.Version,
		},
		Source: source,
	}, nil
}

// slugify turns a request into a snake_case plugin name.
func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if len(name) > 48 {
		name = name[:48]
		name = strings.Trim(name, "_")
	}
	if name == "" {
		name = "generated_tool"
	}
	return name
}
