package graph

import (
	"regexp"
	"strings"
)

// Block properties are structured lines embedded in content, written
// as "key:: value". A value of the form "[[a]][[b]]" is a list of page
// references and parses to a slice.

var (
	propertyLine = regexp.MustCompile(`(?m)^(.*?)::\s*(.*)$`)
	pageRef      = regexp.MustCompile(`\[\[(.*?)\]\]`)
)

// ParseProperties extracts the property pairs from block content.
// Returns nil when the content carries no properties.
func ParseProperties(content string) map[string]any {
	matches := propertyLine.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	props := make(map[string]any, len(matches))
	for _, m := range matches {
		key := strings.TrimSpace(m[1])
		value := m[2]

		refs := pageRef.FindAllStringSubmatch(value, -1)
		if len(refs) > 0 {
			list := make([]string, 0, len(refs))
			for _, r := range refs {
				list = append(list, r[1])
			}
			props[key] = list
			continue
		}
		props[key] = value
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

// ignoredProperties are cosmetic keys excluded from the change check,
// so toggling them locally never triggers a content rewrite.
var ignoredProperties = map[string]bool{
	"collapsed": true,
}

// PropertiesChanged reports whether any non-cosmetic property of the
// newly rendered content differs from the existing block. The shallow,
// order-sensitive comparison (lists compared joined) deliberately
// matches what the mirror has always done: a reordered label list
// counts as a change.
func PropertiesChanged(newProps, existingProps map[string]any) bool {
	if newProps == nil {
		return false
	}
	if existingProps == nil {
		return true
	}

	for key, newVal := range newProps {
		if ignoredProperties[key] {
			continue
		}
		existingVal, ok := existingProps[key]
		if !ok {
			return true
		}
		if newList, isList := newVal.([]string); isList {
			existingList, alsoList := existingVal.([]string)
			if !alsoList {
				return true
			}
			if strings.Join(newList, ",") != strings.Join(existingList, ",") {
				return true
			}
			continue
		}
		if newVal != existingVal {
			return true
		}
	}
	return false
}
