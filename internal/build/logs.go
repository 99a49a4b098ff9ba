/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package build

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/forge-build/shipyard/internal/events"
)

// streamLines reads newline-delimited build output from r, one LogLine per
// line. A line that parses as a JSON object is forwarded as-is so the
// "phase":"failure" convention the Build Session looks for survives;
// anything else is wrapped under a "message" key.
func streamLines(ctx context.Context, r io.Reader, q *events.Queue) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		payload := map[string]any{}
		if err := json.Unmarshal(line, &payload); err != nil {
			payload = map[string]any{"message": string(line)}
		}
		q.Push(events.NewLogLine(payload))
	}
	return scanner.Err()
}
