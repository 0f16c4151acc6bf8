package rtm

import (
	"html"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// TreeNode is one node of a remote navigation tree after shape
// normalization. Folders carry children; leaves carry a Jira key.
type TreeNode struct {
	ID       string
	Name     string
	JiraKey  string
	NodeType string // "FOLDER" or "ISSUE"
	Children []TreeNode
}

const (
	NodeFolder = "FOLDER"
	NodeIssue  = "ISSUE"
)

// firstString returns the first non-empty string among the given gjson
// paths.
func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// ParseTree normalizes a tree response into TreeNodes. The response root
// may be a bare array or wrap the nodes under "nodes", "children" or
// "tree".
func ParseTree(raw []byte) []TreeNode {
	root := gjson.ParseBytes(raw)
	return parseTreeNodes(treeChildren(root))
}

func treeChildren(v gjson.Result) gjson.Result {
	if v.IsArray() {
		return v
	}
	for _, p := range []string{"nodes", "children", "tree", "subFolders", "folders"} {
		if r := v.Get(p); r.IsArray() {
			return r
		}
	}
	return gjson.Result{}
}

func parseTreeNodes(arr gjson.Result) []TreeNode {
	var nodes []TreeNode
	arr.ForEach(func(_, v gjson.Result) bool {
		n := TreeNode{
			ID:      firstString(v, "id", "folderId", "nodeId"),
			Name:    firstString(v, "name", "title", "summary", "key"),
			JiraKey: firstString(v, "jiraKey", "testKey", "issueKey", "key"),
		}
		n.Children = parseTreeNodes(treeChildren(v))
		switch strings.ToUpper(firstString(v, "type", "nodeType")) {
		case "FOLDER", "DIRECTORY":
			n.NodeType = NodeFolder
		case "":
			// Untyped nodes with children or no key are folders.
			if n.JiraKey == "" || len(n.Children) > 0 {
				n.NodeType = NodeFolder
			} else {
				n.NodeType = NodeIssue
			}
		default:
			n.NodeType = NodeIssue
		}
		nodes = append(nodes, n)
		return true
	})
	return nodes
}

// RemoteIssueToFields flattens a remote issue into the local field map.
// Only keys actually present in the response appear in the result, so a
// partial response never blanks stored columns. Both the RTM top-level
// shape and the Jira "fields" envelope are accepted.
func RemoteIssueToFields(raw []byte) map[string]any {
	v := gjson.ParseBytes(raw)
	fields := make(map[string]any)

	setIf := func(col string, paths ...string) {
		for _, p := range paths {
			if r := v.Get(p); r.Exists() {
				fields[col] = r.String()
				return
			}
		}
	}

	setIf("summary", "fields.summary", "summary", "name")
	setIf("description", "fields.description", "description")
	setIf("status", "fields.status.name", "status.name", "status")
	setIf("priority", "fields.priority.name", "priority.name", "priority")
	setIf("security_level", "fields.security.name", "security.name", "security")
	setIf("due_date", "fields.duedate", "duedate", "dueDate")
	setIf("environment", "fields.environment", "environment")
	setIf("preconditions", "fields.preconditions", "preconditions", "precondition")
	setIf("created_at", "fields.created", "created")
	setIf("updated_at", "fields.updated", "updated")

	if s := personName(v, "fields.assignee", "assignee"); s != "" {
		fields["assignee"] = s
	} else if hasAny(v, "fields.assignee", "assignee") {
		fields["assignee"] = ""
	}
	if s := personName(v, "fields.reporter", "reporter"); s != "" {
		fields["reporter"] = s
	} else if hasAny(v, "fields.reporter", "reporter") {
		fields["reporter"] = ""
	}

	if r := firstResult(v, "fields.labels", "labels"); r.Exists() {
		fields["labels"] = joinList(r, "")
	}
	if r := firstResult(v, "fields.components", "components"); r.Exists() {
		fields["components"] = joinList(r, "name")
	}
	if r := firstResult(v, "fields.fixVersions", "fixVersions"); r.Exists() {
		fields["fix_versions"] = joinList(r, "name")
	}
	if r := firstResult(v, "fields.versions", "versions", "affectedVersions"); r.Exists() {
		fields["affects_versions"] = joinList(r, "name")
	}
	if r := firstResult(v, "fields.attachment", "attachment", "attachments"); r.Exists() {
		fields["attachments"] = r.Raw
	}
	if s := firstString(v, "fields.customfield_10100", "epicLink", "epic"); s != "" {
		fields["epic_link"] = s
	}
	if r := firstResult(v, "fields.sprint", "sprint"); r.Exists() {
		if r.IsArray() {
			fields["sprint"] = joinList(r, "name")
		} else {
			fields["sprint"] = firstString(r, "name")
		}
	}
	return fields
}

func hasAny(v gjson.Result, paths ...string) bool {
	for _, p := range paths {
		if v.Get(p).Exists() {
			return true
		}
	}
	return false
}

func firstResult(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// personName extracts a display name from a Jira user object, falling back
// through the name variants Server and Cloud use.
func personName(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := v.Get(p)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if r.Type == gjson.String {
			return r.String()
		}
		if s := firstString(r, "displayName", "name", "key", "emailAddress"); s != "" {
			return s
		}
	}
	return ""
}

// joinList comma-joins a JSON array. With field set, each element's field
// is taken; otherwise the element itself.
func joinList(arr gjson.Result, field string) string {
	var parts []string
	arr.ForEach(func(_, v gjson.Result) bool {
		s := v.String()
		if field != "" {
			s = v.Get(field).String()
		}
		if s != "" {
			parts = append(parts, s)
		}
		return true
	})
	return strings.Join(parts, ",")
}

// Push payload construction. Only fields the remote reliably accepts on
// both create and update are emitted; workflow-driven fields like status
// and resolution are never pushed.

// CreatePayload builds a Jira create body for a local issue's columns.
func CreatePayload(projectKey, issueType string, local map[string]any) map[string]any {
	fields := pushFields(local)
	fields["project"] = map[string]string{"key": projectKey}
	fields["issuetype"] = map[string]string{"name": issueTypeName(issueType)}
	return map[string]any{"fields": fields}
}

// UpdatePayload builds a Jira update body for the given local columns.
func UpdatePayload(local map[string]any) map[string]any {
	return map[string]any{"fields": pushFields(local)}
}

func pushFields(local map[string]any) map[string]any {
	fields := make(map[string]any)
	str := func(k string) (string, bool) {
		v, ok := local[k]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
	if s, ok := str("summary"); ok {
		fields["summary"] = s
	}
	if s, ok := str("description"); ok {
		fields["description"] = s
	}
	if s, ok := str("labels"); ok {
		fields["labels"] = splitList(s)
	}
	if s, ok := str("components"); ok {
		var comps []map[string]string
		for _, name := range splitList(s) {
			comps = append(comps, map[string]string{"name": name})
		}
		fields["components"] = comps
	}
	if s, ok := str("due_date"); ok && s != "" {
		fields["duedate"] = s
	}
	if s, ok := str("environment"); ok && s != "" {
		fields["environment"] = s
	}
	return fields
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// issueTypeName maps a local issue type to the remote issue type name.
func issueTypeName(issueType string) string {
	switch issueType {
	case EntityRequirement:
		return "Requirement"
	case EntityTestCase:
		return "Test Case"
	case EntityTestPlan:
		return "Test Plan"
	case EntityTestExecution:
		return "Test Execution"
	case EntityDefect:
		return "Defect"
	}
	return issueType
}

// ExtractCreatedKey pulls the new issue key out of a creation response.
func ExtractCreatedKey(raw []byte) string {
	return firstString(gjson.ParseBytes(raw), "testKey", "issueKey", "key", "jiraKey")
}

// ExtractRelations reads the issue links of a remote issue. The direction
// is encoded in the relation type as "Name (out)" or "Name (in)".
func ExtractRelations(raw []byte) []RemoteRelation {
	v := gjson.ParseBytes(raw)
	links := firstResult(v, "fields.issuelinks", "issuelinks", "links")
	var out []RemoteRelation
	links.ForEach(func(_, link gjson.Result) bool {
		name := firstString(link, "type.name", "relationType", "type")
		if other := link.Get("outwardIssue"); other.Exists() {
			out = append(out, RemoteRelation{
				Type:       name + " (out)",
				DstKey:     other.Get("key").String(),
				DstSummary: other.Get("fields.summary").String(),
			})
		}
		if other := link.Get("inwardIssue"); other.Exists() {
			out = append(out, RemoteRelation{
				Type:       name + " (in)",
				DstKey:     other.Get("key").String(),
				DstSummary: other.Get("fields.summary").String(),
			})
		}
		return true
	})
	return out
}

var (
	brRe  = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML flattens the HTML the RTM step editor emits into plain text.
func StripHTML(s string) string {
	s = brRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

// RemoteStepsToLocal normalizes a steps response. Accepted shapes: a bare
// array, {"steps": [...]}, or {"stepGroups": [{"steps": [...]}]}.
func RemoteStepsToLocal(raw []byte) []RemoteStep {
	v := gjson.ParseBytes(raw)
	if groups := firstResult(v, "stepGroups", "groups"); groups.IsArray() {
		var out []RemoteStep
		g := 0
		groups.ForEach(func(_, group gjson.Result) bool {
			g++
			out = append(out, parseSteps(firstResult(group, "steps", "stepColumns"), g)...)
			return true
		})
		return out
	}
	arr := v
	if !arr.IsArray() {
		arr = firstResult(v, "steps", "testSteps", "stepColumns")
	}
	return parseSteps(arr, 0)
}

func parseSteps(arr gjson.Result, group int) []RemoteStep {
	var out []RemoteStep
	n := 0
	arr.ForEach(func(_, s gjson.Result) bool {
		n++
		step := RemoteStep{
			GroupNo:  group,
			OrderNo:  n,
			Action:   StripHTML(firstString(s, "action", "step", "name")),
			Input:    StripHTML(firstString(s, "data", "input", "testData")),
			Expected: StripHTML(firstString(s, "expectedResult", "expected", "result")),
		}
		if g := s.Get("groupNo"); g.Exists() {
			step.GroupNo = int(g.Int())
		}
		if o := s.Get("orderNo"); o.Exists() {
			step.OrderNo = int(o.Int())
		}
		out = append(out, step)
		return true
	})
	return out
}

// StepsPutPayload builds the body for replacing a test case's remote steps.
func StepsPutPayload(steps []RemoteStep) map[string]any {
	items := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		items = append(items, map[string]any{
			"groupNo":        s.GroupNo,
			"orderNo":        s.OrderNo,
			"action":         s.Action,
			"data":           s.Input,
			"expectedResult": s.Expected,
		})
	}
	return map[string]any{"steps": items}
}

// RemoteTestPlanTestCases normalizes a test plan's test-case list.
func RemoteTestPlanTestCases(raw []byte) []RemotePlanLink {
	v := gjson.ParseBytes(raw)
	arr := v
	if !arr.IsArray() {
		arr = firstResult(v, "testCases", "testcases", "values")
	}
	var out []RemotePlanLink
	n := 0
	arr.ForEach(func(_, tc gjson.Result) bool {
		n++
		link := RemotePlanLink{
			Key:     firstString(tc, "testCaseKey", "testcase_key", "testKey", "key"),
			Order:   n,
			Summary: firstString(tc, "summary", "name"),
		}
		if o := tc.Get("order"); o.Exists() {
			link.Order = int(o.Int())
		}
		if link.Key != "" {
			out = append(out, link)
		}
		return true
	})
	return out
}

// RemoteTestExecutionTestCases normalizes a test execution's run list.
func RemoteTestExecutionTestCases(raw []byte) []RemoteExecutionLink {
	v := gjson.ParseBytes(raw)
	arr := v
	if !arr.IsArray() {
		arr = firstResult(v, "testCaseExecutions", "testCases", "values")
	}
	var out []RemoteExecutionLink
	n := 0
	arr.ForEach(func(_, tce gjson.Result) bool {
		n++
		link := RemoteExecutionLink{
			Key:        firstString(tce, "testCaseKey", "testcase_key", "testKey", "key"),
			TCEKey:     firstString(tce, "testCaseExecutionKey", "tceKey", "executionKey"),
			Order:      n,
			Assignee:   personName(tce, "assignee"),
			Result:     firstString(tce, "status", "result"),
			ActualTime: firstString(tce, "actualTime", "timeSpent"),
		}
		if o := tce.Get("order"); o.Exists() {
			link.Order = int(o.Int())
		}
		if defects := firstResult(tce, "defects", "defectKeys"); defects.IsArray() {
			link.Defects = joinList(defects, "key")
			if link.Defects == "" {
				link.Defects = joinList(defects, "")
			}
		}
		if link.Key != "" {
			out = append(out, link)
		}
		return true
	})
	return out
}
