package store

import (
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// updateExpr accumulates a DynamoDB UpdateExpression. Every attribute is
// referenced through a #name placeholder so reserved words (status, error,
// model) need no special handling.
type updateExpr struct {
	sets    map[string]types.AttributeValue
	adds    map[string]types.AttributeValue
	removes map[string]bool
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdateExpr() *updateExpr {
	return &updateExpr{
		sets:    make(map[string]types.AttributeValue),
		adds:    make(map[string]types.AttributeValue),
		removes: make(map[string]bool),
		names:   make(map[string]string),
		values:  make(map[string]types.AttributeValue),
	}
}

func (u *updateExpr) set(attr string, v types.AttributeValue) *updateExpr {
	delete(u.removes, attr)
	u.sets[attr] = v
	return u
}

func (u *updateExpr) remove(attr string) *updateExpr {
	delete(u.sets, attr)
	u.removes[attr] = true
	return u
}

func (u *updateExpr) add(attr string, v types.AttributeValue) *updateExpr {
	u.adds[attr] = v
	return u
}

// name registers attr and returns its placeholder.
func (u *updateExpr) name(attr string) string {
	ph := "#" + attr
	u.names[ph] = attr
	return ph
}

// value registers a value placeholder for conditions.
func (u *updateExpr) value(key string, v types.AttributeValue) string {
	ph := ":" + key
	u.values[ph] = v
	return ph
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expression renders the clauses in a stable order.
func (u *updateExpr) expression() string {
	var clauses []string
	if len(u.sets) > 0 {
		parts := make([]string, 0, len(u.sets))
		for _, attr := range sortedKeys(u.sets) {
			parts = append(parts, u.name(attr)+" = "+u.value(attr, u.sets[attr]))
		}
		clauses = append(clauses, "SET "+strings.Join(parts, ", "))
	}
	if len(u.removes) > 0 {
		parts := make([]string, 0, len(u.removes))
		for _, attr := range sortedKeys(u.removes) {
			parts = append(parts, u.name(attr))
		}
		clauses = append(clauses, "REMOVE "+strings.Join(parts, ", "))
	}
	if len(u.adds) > 0 {
		parts := make([]string, 0, len(u.adds))
		for _, attr := range sortedKeys(u.adds) {
			parts = append(parts, u.name(attr)+" "+u.value(attr, u.adds[attr]))
		}
		clauses = append(clauses, "ADD "+strings.Join(parts, ", "))
	}
	return strings.Join(clauses, " ")
}

// patchExpression translates a sparse job patch. Only fields the patch
// sets appear in the expression; updatedAt is always refreshed.
func patchExpression(p pipeline.JobPatch, now time.Time) *updateExpr {
	u := newUpdateExpr()
	if p.Status != nil {
		u.set("status", stringAttr(string(*p.Status)))
	}
	if p.Step != nil {
		u.set("step", stringAttr(string(*p.Step)))
	}
	if p.ClearLockedUntil {
		u.remove("lockedUntil")
	} else if p.LockedUntil != nil {
		u.set("lockedUntil", numberAttr(p.LockedUntil.UnixMilli()))
	}
	if p.IncrementRetry {
		u.add("retryCount", numberAttr(1))
	}
	if p.ClearError {
		u.remove("error")
	} else if p.Error != nil {
		setOrRemove(u, "error", *p.Error)
	}
	if p.ClearProvider {
		u.remove("provider")
		u.remove("model")
	} else {
		if p.Provider != nil {
			setOrRemove(u, "provider", *p.Provider)
		}
		if p.Model != nil {
			setOrRemove(u, "model", *p.Model)
		}
	}
	if p.ProcessedAt != nil {
		u.set("processedAt", numberAttr(p.ProcessedAt.UnixMilli()))
	}
	u.set("updatedAt", numberAttr(now.UnixMilli()))
	return u
}

// setOrRemove writes s, or removes the attribute when s is empty so the
// sparse record never stores empty strings.
func setOrRemove(u *updateExpr, attr, s string) {
	if s == "" {
		u.remove(attr)
		return
	}
	u.set(attr, stringAttr(s))
}
