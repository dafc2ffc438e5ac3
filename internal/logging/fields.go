package logging

import "maps"

// cloneFields returns a writable copy of src, never nil.
func cloneFields(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+1)
	maps.Copy(dst, src)
	return dst
}
