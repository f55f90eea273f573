// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/grailbio/base/log"
)

func (s *Session) handleDebug(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("content-type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, debugIndexHtml)
}

var debugIndexHtml = `<!DOCTYPE html>
<meta charset="utf-8">
<head>
<title>
/debug
</title>
</head>
<body>

<dl>
<dt><a href="/debug/status">/debug/status</a></dt>
<dd>blockwise task and block status</dd>
<dt><a href="/debug/blocks">/debug/blocks</a></dt>
<dd>blockwise block dependency graph</dd>
</dl>
</body>
</html>
`

// handleBlocks serves the block graphs of the session's runs as JSON
// nodes and links; nodes are grouped by block state.
func (s *Session) handleBlocks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	graphs := make([]*graph, len(s.graphs))
	copy(graphs, s.graphs)
	s.mu.Unlock()

	type node struct {
		Name  string `json:"name"`
		Task  string `json:"task"`
		State string `json:"state"`
		Write string `json:"write"`
		Read  string `json:"read"`
	}
	type link struct {
		Source int `json:"source"`
		Target int `json:"target"`
	}
	var out struct {
		Nodes []node `json:"nodes"`
		Links []link `json:"links"`
	}
	indexed := make(map[*Block]int)
	for _, g := range graphs {
		for _, b := range g.all {
			indexed[b] = len(out.Nodes)
			out.Nodes = append(out.Nodes, node{
				Name:  b.Name.String(),
				Task:  b.Name.Task,
				State: b.State().String(),
				Write: b.WriteROI.String(),
				Read:  b.ReadROI.String(),
			})
		}
	}
	for _, g := range graphs {
		for _, b := range g.all {
			for _, dep := range b.Deps {
				out.Links = append(out.Links, link{indexed[b], indexed[dep]})
			}
		}
	}
	w.Header().Add("content-type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error.Printf("Session.handleBlocks: json.Encode: %v", err)
		http.Error(w, err.Error(), 500)
	}
}
