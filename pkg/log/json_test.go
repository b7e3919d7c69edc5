// Copyright 2018 The gVisor Authors.
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

package log

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		level Level
		name  string
	}{
		{Warning, `"warning"`},
		{Info, `"info"`},
		{Debug, `"debug"`},
	} {
		b, err := tc.level.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v): %v", tc.level, err)
		}
		if string(b) != tc.name {
			t.Errorf("MarshalJSON(%v) = %s, want %s", tc.level, b, tc.name)
		}
		for _, in := range []string{tc.name, string('0' + byte(tc.level))} {
			var got Level
			if err := got.UnmarshalJSON([]byte(in)); err != nil {
				t.Errorf("UnmarshalJSON(%s): %v", in, err)
			} else if got != tc.level {
				t.Errorf("UnmarshalJSON(%s) = %v, want %v", in, got, tc.level)
			}
		}
	}
}

func TestLevelJSONUnknown(t *testing.T) {
	if _, err := Level(7).MarshalJSON(); err == nil {
		t.Errorf("MarshalJSON(7) succeeded")
	}
	for _, in := range []string{"3", "-1", `"fatal"`, "warning"} {
		var l Level
		if err := l.UnmarshalJSON([]byte(in)); err == nil {
			t.Errorf("UnmarshalJSON(%s) = %v, want error", in, l)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Info, time.Unix(0, 0).UTC(), "tid %d acquired", 42)

	var got jsonLog
	if err := json.Unmarshal([]byte(strings.TrimSpace(tw.String())), &got); err != nil {
		t.Fatalf("output %q is not json: %v", tw.String(), err)
	}
	if got.Level != Info {
		t.Errorf("level = %v, want %v", got.Level, Info)
	}
	if got.Msg != "tid 42 acquired" {
		t.Errorf("msg = %q", got.Msg)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller = %q", got.Caller)
	}
}
