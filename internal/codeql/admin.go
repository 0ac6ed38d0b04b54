// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codeql

import (
	"context"

	"github.com/tombee/codeql-mcp/internal/queryserver"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Status is reported by query_server_status.
type Status struct {
	QueryServer     *queryserver.Status `json:"query_server,omitempty"`
	Abandoned       []AbandonedProcess  `json:"abandoned_processes"`
	CachedDatabases int                 `json:"cached_databases"`
	TempDir         string              `json:"temp_dir"`
}

// Status reports the query server, abandoned subprocesses and cache size.
func (s *Service) Status() *Status {
	st := &Status{
		Abandoned:       []AbandonedProcess{},
		CachedDatabases: s.cache.Len(),
		TempDir:         s.tempDir,
	}
	if s.control != nil {
		qs := s.control.Status()
		st.QueryServer = &qs
	}
	if pc, ok := s.runner.(ProcessControl); ok {
		st.Abandoned = pc.Abandoned()
	}
	return st
}

// RestartQueryServer stops the query server and starts a new one.
func (s *Service) RestartQueryServer(ctx context.Context) (*queryserver.Status, error) {
	if s.control == nil {
		return nil, &cqerrors.InternalError{Message: "query server control is not configured"}
	}
	s.logger.Info("restarting query server on request")
	if err := s.control.Restart(ctx); err != nil {
		return nil, err
	}
	st := s.control.Status()
	return &st, nil
}

// ClearDatabaseCache drops all cached database info.
func (s *Service) ClearDatabaseCache() int {
	n := s.cache.Clear()
	s.logger.Info("database info cache cleared", "entries", n)
	return n
}

// TerminateAbandoned kills subprocesses left running after a timeout.
func (s *Service) TerminateAbandoned() (int, error) {
	pc, ok := s.runner.(ProcessControl)
	if !ok {
		return 0, nil
	}
	return pc.TerminateAbandoned()
}
