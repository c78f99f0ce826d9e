package agent

import (
	"context"
	"fmt"
	"strings"
)

type Label string

const (
	LabelResearch Label = "research"
	LabelBuild    Label = "build"
)

const routerPrompt = `You are a routing AI. Classify this query as either:
- RESEARCH: questions about concepts, analysis, hypothesis testing, theory, reasoning
- BUILD: implementation, coding, technical setup, architecture, debugging

Query: %s

Respond with just one word: RESEARCH or BUILD`

// Classifier labels a query as research or build and names the channel its
// answer belongs in.
type Classifier struct {
	backend
	researchChannel string
	buildChannel    string
}

// Classify never fails on backend trouble. With no router backend configured
// every query is research and no call is made; if a call was attempted and
// failed the query is treated as build. The error return is only the
// context's, when the request itself was cancelled.
func (c *Classifier) Classify(ctx context.Context, query string) (Label, string, error) {
	if c.client == nil {
		return LabelResearch, c.researchChannel, nil
	}

	res, err := c.complete(ctx, "", fmt.Sprintf(routerPrompt, query))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		c.logger.Warn("classifier call failed, routing to build", "err", err)
		return LabelBuild, c.buildChannel, nil
	}

	if parseLabel(res.Text) == LabelResearch {
		return LabelResearch, c.researchChannel, nil
	}
	return LabelBuild, c.buildChannel, nil
}

// Process returns the label as text.
func (c *Classifier) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	label, _, err := c.Classify(ctx, req.Query)
	if err != nil {
		return Result{}, err
	}
	return Text(string(label)), nil
}

func parseLabel(resp string) Label {
	first, _, _ := strings.Cut(strings.TrimSpace(resp), "\n")
	if strings.Contains(strings.ToUpper(first), "RESEARCH") {
		return LabelResearch
	}
	return LabelBuild
}
