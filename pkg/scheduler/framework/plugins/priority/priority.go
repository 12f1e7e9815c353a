// Package priority implements the default QueueSort plugin: pods are ordered by
// priority (higher first), creation time as the tie-break, matching spec.md §4.1
// "priority first, creation time as tie-break is the default".
package priority

import (
	core "github.com/arken-sh/arken/pkg/apis/core"
)

const Name = "PrioritySort"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Less(a, b *core.Pod) bool {
	if a.Spec.Priority != b.Spec.Priority {
		return a.Spec.Priority > b.Spec.Priority
	}
	return a.Spec.CreationTime.Before(&b.Spec.CreationTime)
}
