package http

import (
	"net/http"
	"reflect"
	"slices"

	"github.com/omalloc/chunksync/contrib/log"
)

// Routes returns the patterns registered on mux, sorted. It walks the
// unexported routing tree of net/http, so an unknown layout yields nothing.
func Routes(mux *http.ServeMux) []string {
	var routes []string

	var walk func(node reflect.Value)
	walk = func(node reflect.Value) {
		if !node.IsValid() || node.Kind() != reflect.Struct {
			return
		}

		if pat := deref(node.FieldByName("pattern")); pat.IsValid() {
			if str := pat.FieldByName("str"); str.IsValid() {
				routes = append(routes, str.String())
			}
		}

		if children := node.FieldByName("children"); children.IsValid() {
			// small maps keep a slice of entries, large ones a map
			if s := children.FieldByName("s"); s.IsValid() && s.Kind() == reflect.Slice {
				for i := range s.Len() {
					walk(deref(s.Index(i).FieldByName("value")))
				}
			}
			if m := children.FieldByName("m"); m.IsValid() && m.Kind() == reflect.Map {
				iter := m.MapRange()
				for iter.Next() {
					walk(deref(iter.Value()))
				}
			}
		}

		walk(deref(node.FieldByName("multiChild")))
		walk(deref(node.FieldByName("emptyChild")))
	}

	root := reflect.ValueOf(mux).Elem()
	walk(root.FieldByName("tree"))

	// GODEBUG=httpmuxgo121=1
	if old := root.FieldByName("mux121"); old.IsValid() {
		if m := old.FieldByName("m"); m.IsValid() && m.Kind() == reflect.Map {
			for _, k := range m.MapKeys() {
				routes = append(routes, k.String())
			}
		}
	}

	slices.Sort(routes)
	return slices.Compact(routes)
}

func deref(v reflect.Value) reflect.Value {
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return reflect.Value{}
	}
	if v.Kind() == reflect.Pointer {
		return v.Elem()
	}
	return v
}

// PrintRoutes logs every pattern registered on mux.
func PrintRoutes(mux *http.ServeMux) {
	for _, r := range Routes(mux) {
		log.Infof("router handler %s", r)
	}
}
