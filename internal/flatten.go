package internal

import "strconv"

// Flatten collapses a decoded webhook payload into a single-level map so
// filter expressions and build parameters can address values by dotted
// path. `{"project": {"id": 7}}` becomes `{"project.id": 7}`. Array
// elements get indexed keys (`commits[0].id`) and the array itself stays
// reachable under both its plain key and a `[]` suffixed alias.
func Flatten(payload map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{})
	for key, value := range payload {
		flattenValue(flat, key, value)
	}
	return flat
}

func flattenValue(flat map[string]interface{}, path string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			flattenValue(flat, path+"."+key, child)
		}
	case []interface{}:
		flat[path] = v
		flat[path+"[]"] = v
		for i, child := range v {
			flattenValue(flat, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		flat[path] = value
	}
}
