// Package form implements the submission controller: it validates
// new-item input and routes it through one of two creation pathways.
package form

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

// Pathway selects how a new item is created.
type Pathway string

const (
	// PathwayDirect writes straight to the store.
	PathwayDirect Pathway = "direct"

	// PathwayMediated invokes the createCustomTodo server-side
	// function, which performs the create on the caller's behalf.
	PathwayMediated Pathway = "mediated"
)

// ParsePathway maps a user-supplied string to a Pathway.
func ParsePathway(s string) (Pathway, error) {
	switch Pathway(s) {
	case PathwayDirect:
		return PathwayDirect, nil
	case PathwayMediated:
		return PathwayMediated, nil
	}
	return "", fmt.Errorf("unknown creation pathway %q (want direct or mediated)", s)
}

// Submission is the outcome of a submit: whether it succeeded, a
// human-readable status message, and whether the caller must reload
// its collections. The mediated pathway is not guaranteed to emit a
// live create event, so a successful mediated submit always sets
// NeedsReload.
type Submission struct {
	OK          bool
	Message     string
	NeedsReload bool
}

// Controller collects new-item input and invokes the store.
type Controller struct {
	st     store.Store
	logger *zap.Logger
}

// New returns a controller bound to the given store.
func New(st store.Store, logger *zap.Logger) *Controller {
	return &Controller{st: st, logger: logger}
}

// Submit creates a new PENDING item with the given content through
// the chosen pathway. Content that is empty after trimming is
// rejected silently: no store call, zero-value Submission.
func (c *Controller) Submit(ctx context.Context, content string, via Pathway) Submission {
	content = strings.TrimSpace(content)
	if content == "" {
		return Submission{}
	}

	if via == PathwayMediated {
		return c.submitMediated(ctx, content)
	}
	return c.submitDirect(ctx, content)
}

func (c *Controller) submitDirect(ctx context.Context, content string) Submission {
	res, err := c.st.Create(ctx, content, model.StatusPending)
	if err != nil {
		c.logger.Warn("direct create failed", zap.Error(err))
		return Submission{Message: "error: failed to create"}
	}
	if !res.OK() {
		c.logger.Warn("direct create rejected", zap.Strings("errors", res.Errors))
		return Submission{Message: "error: failed to create"}
	}
	return Submission{OK: true, Message: "success: created"}
}

func (c *Controller) submitMediated(ctx context.Context, content string) Submission {
	res, err := c.st.InvokeMutation(ctx, "createCustomTodo", store.Args{
		"content": content,
		"status":  string(model.StatusPending),
	})
	if err != nil {
		c.logger.Warn("mediated create failed", zap.Error(err))
		return Submission{Message: "error: mediated create failed"}
	}
	if !res.OK() {
		c.logger.Warn("mediated create rejected", zap.Strings("errors", res.Errors))
		return Submission{Message: "error: mediated create failed"}
	}

	msg := "success: created via function"
	if res.Item != nil {
		msg = fmt.Sprintf("success: created via function (%s)", res.Item.ID)
	}
	return Submission{OK: true, Message: msg, NeedsReload: true}
}
