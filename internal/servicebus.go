// Service registry: collects status-JSON-producing components and
// concatenates their status into one document.
//
// Grounded in original_source/include/urtsched/IService.hpp and
// ServiceBus.{hpp,cpp}: the original concatenates each registered service's
// raw status string; here the result is built through encoding/json so the
// combined document is always valid, nested JSON rather than a
// string-spliced approximation.

package rtsched_internal

import (
	"encoding/json"
	"fmt"
	"sync"
)

// IService is anything that can report its status as JSON. *Scheduler and
// *MultiCoreCoordinator both satisfy it.
type IService interface {
	Name() string
	StatusJSON() ([]byte, error)
}

// ServiceBus is a registry of IServices, queried together for an aggregate
// status document. It is safe for concurrent Register and StatusJSON calls.
type ServiceBus struct {
	mu       sync.Mutex
	services []IService
}

// NewServiceBus creates an empty registry.
func NewServiceBus() *ServiceBus {
	return &ServiceBus{}
}

// Register adds a service to the bus. Registering the same name twice is
// allowed, but StatusJSON keys its document by name, so only the status of
// the later-registered service appears under that name.
func (b *ServiceBus) Register(s IService) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services = append(b.services, s)
}

// StatusJSON returns {"<name>": <that service's raw status>, ...} for every
// registered service. A service whose StatusJSON call fails is reported
// under its name as {"error": "..."} rather than aborting the whole
// aggregate, so one broken component doesn't blind the others.
func (b *ServiceBus) StatusJSON() ([]byte, error) {
	b.mu.Lock()
	services := make([]IService, len(b.services))
	copy(services, b.services)
	b.mu.Unlock()

	doc := make(map[string]json.RawMessage, len(services))
	for _, s := range services {
		raw, err := s.StatusJSON()
		if err != nil {
			raw, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		doc[s.Name()] = raw
	}
	return json.Marshal(doc)
}

// combinedTasksJSON concatenates the "tasks" array of each scheduler's
// status document into one {"tasks":[...]} document, matching the status
// JSON schema's multi-core aggregation rule.
func combinedTasksJSON(schedulers []*Scheduler) ([]byte, error) {
	var combined struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	for _, s := range schedulers {
		raw, err := s.StatusJSON()
		if err != nil {
			return nil, fmt.Errorf("rtsched: scheduler %s status: %w", s.Name(), err)
		}
		var doc struct {
			Tasks []json.RawMessage `json:"tasks"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("rtsched: scheduler %s status decode: %w", s.Name(), err)
		}
		combined.Tasks = append(combined.Tasks, doc.Tasks...)
	}
	return json.Marshal(combined)
}
