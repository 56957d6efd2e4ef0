package backend

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/testweb/testweb/internal/testweb/domain"
)

// Descriptor describes how a test type is started on the backend.
type Descriptor struct {
	Type domain.TestType
	// Start endpoint, relative to the backend base URL.
	Path string
	// Phase labels replayed while no authoritative progress is available.
	Steps  []string
	Decode StartDecoder
}

func (d Descriptor) decoder() StartDecoder {
	if d.Decode != nil {
		return d.Decode
	}
	return DecodeStartResponse
}

var defaultDescriptors = []Descriptor{
	{
		Type:  domain.Stress,
		Path:  "/test/stress",
		Steps: []string{"Ramping up virtual users", "Sustaining load", "Collecting latency samples", "Ramping down"},
	},
	{
		Type:  domain.Performance,
		Path:  "/test/performance",
		Steps: []string{"Loading page", "Measuring core web vitals", "Analysing resources", "Computing performance score"},
	},
	{
		Type:  domain.Security,
		Path:  "/test/security",
		Steps: []string{"Checking HTTPS configuration", "Inspecting security headers", "Scanning for known vulnerabilities", "Compiling security report"},
	},
	{
		Type:  domain.Seo,
		Path:  "/test/seo",
		Steps: []string{"Fetching page metadata", "Checking structured data", "Analysing content", "Scoring SEO"},
	},
	{
		Type:  domain.Api,
		Path:  "/test/api",
		Steps: []string{"Resolving endpoints", "Sending requests", "Validating responses", "Summarising results"},
	},
	{
		Type:  domain.Database,
		Path:  "/test/database",
		Steps: []string{"Connecting to database", "Running query benchmarks", "Checking indexes", "Summarising results"},
	},
	{
		Type:  domain.Network,
		Path:  "/test/network",
		Steps: []string{"Resolving DNS", "Measuring latency", "Measuring throughput", "Summarising results"},
	},
	{
		Type:  domain.Ux,
		Path:  "/test/ux",
		Steps: []string{"Rendering page", "Checking accessibility", "Evaluating interactions", "Scoring user experience"},
	},
	{
		Type:  domain.Website,
		Path:  "/test/website",
		Steps: []string{"Crawling pages", "Checking links", "Auditing assets", "Compiling website report"},
	},
	{
		Type:  domain.Compatibility,
		Path:  "/test/compatibility",
		Steps: []string{"Launching browsers", "Rendering across engines", "Comparing layouts", "Compiling compatibility report"},
	},
}

// Registry maps each test type to its Descriptor.
type Registry struct {
	descriptors map[domain.TestType]Descriptor
}

func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[domain.TestType]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.descriptors[d.Type] = d
	}
	return r
}

func DefaultRegistry() *Registry {
	return NewRegistry(defaultDescriptors...)
}

// WithEndpoints returns a copy of the registry with the start paths of the given types replaced.
func (r *Registry) WithEndpoints(overrides map[domain.TestType]string) *Registry {
	descriptors := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if path, ok := overrides[d.Type]; ok && path != "" {
			d.Path = path
		}
		descriptors = append(descriptors, d)
	}
	return NewRegistry(descriptors...)
}

func (r *Registry) Lookup(testType domain.TestType) (Descriptor, error) {
	d, ok := r.descriptors[testType]
	if !ok {
		return Descriptor{}, errors.Wrapf(domain.ErrUnknownTestType, "%q", testType)
	}
	return d, nil
}

func (r *Registry) Types() []domain.TestType {
	types := maps.Keys(r.descriptors)
	slices.Sort(types)
	return types
}
