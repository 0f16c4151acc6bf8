// Package rtm talks to a Jira instance carrying the RTM test-management
// plugin. It provides an endpoint-templated HTTP client with ordered
// fallback candidates per logical operation, and the pure mapping functions
// translating remote JSON shapes to and from local field sets.
package rtm

// Entity types understood by the remote service. The string values match
// the local store's issue_type column.
const (
	EntityRequirement   = "REQUIREMENT"
	EntityTestCase      = "TEST_CASE"
	EntityTestPlan      = "TEST_PLAN"
	EntityTestExecution = "TEST_EXECUTION"
	EntityDefect        = "DEFECT"
)

// Tree types accepted by the remote tree endpoint, in pull order.
var TreeTypes = []string{
	"requirements",
	"test-cases",
	"test-plans",
	"test-executions",
	"defects",
}

// entitySegments maps an entity type to its path segment in RTM endpoints.
// Unknown types fall back to the generic issue endpoints.
var entitySegments = map[string]string{
	EntityRequirement:   "requirement",
	EntityTestCase:      "test-case",
	EntityTestPlan:      "test-plan",
	EntityTestExecution: "test-execution",
	EntityDefect:        "defect",
}

// treeTypeEntities maps a tree type to the entity type of its leaf nodes.
var treeTypeEntities = map[string]string{
	"requirements":    EntityRequirement,
	"test-cases":      EntityTestCase,
	"test-plans":      EntityTestPlan,
	"test-executions": EntityTestExecution,
	"defects":         EntityDefect,
}

// EntityForTreeType returns the entity type of a tree's leaf nodes.
// Unknown tree types map to requirements, matching remote behavior for
// custom trees.
func EntityForTreeType(treeType string) string {
	if e, ok := treeTypeEntities[treeType]; ok {
		return e
	}
	return EntityRequirement
}

// RemoteRelation is one cross-issue link extracted from a remote issue.
// Type carries the direction suffix, e.g. "Relates (out)".
type RemoteRelation struct {
	Type       string
	DstKey     string
	DstSummary string
}

// RemoteStep is one test-case step as returned by the remote service.
type RemoteStep struct {
	GroupNo  int
	OrderNo  int
	Action   string
	Input    string
	Expected string
}

// RemotePlanLink is one test case attached to a remote test plan.
type RemotePlanLink struct {
	Key     string
	Order   int
	Summary string
}

// RemoteExecutionLink is one test case's run inside a remote test execution.
type RemoteExecutionLink struct {
	Key        string // test case key
	TCEKey     string // test case execution key, when present
	Order      int
	Assignee   string
	Result     string
	ActualTime string
	Defects    string // comma-joined defect keys
}
