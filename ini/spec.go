package ini

import "strings"

// SplitSpec splits a "file[:group]" spec, the syntax of `uwsgi --ini` and of
// the include directive. A colon only separates a group when no slash follows
// it, so URLs and paths with colons keep working. The group is empty when the
// spec does not name one.
func SplitSpec(spec string) (name, group string) {
	i := strings.LastIndexByte(spec, ':')
	if i < 0 || strings.ContainsAny(spec[i+1:], `/\`) {
		return spec, ""
	}
	return spec[:i], spec[i+1:]
}

// JoinSpec is the inverse of SplitSpec.
func JoinSpec(name, group string) string {
	if group == "" {
		return name
	}
	return name + ":" + group
}
