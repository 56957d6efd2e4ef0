package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// TestType names the kind of website test the backend should run.
type TestType string

const (
	Stress        TestType = "stress"
	Performance   TestType = "performance"
	Security      TestType = "security"
	Seo           TestType = "seo"
	Api           TestType = "api"
	Database      TestType = "database"
	Network       TestType = "network"
	Ux            TestType = "ux"
	Website       TestType = "website"
	Compatibility TestType = "compatibility"
)

var ErrUnknownTestType = errors.New("unknown test type")

var allTestTypes = []TestType{
	Stress,
	Performance,
	Security,
	Seo,
	Api,
	Database,
	Network,
	Ux,
	Website,
	Compatibility,
}

func AllTestTypes() []TestType {
	types := make([]TestType, len(allTestTypes))
	copy(types, allTestTypes)
	return types
}

func ParseTestType(s string) (TestType, error) {
	candidate := TestType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range allTestTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownTestType, "%q", s)
}

func (t TestType) String() string {
	return string(t)
}
