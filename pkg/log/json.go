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
	"fmt"
	"strings"
	"time"
)

type jsonLog struct {
	Msg   string    `json:"msg"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`

	// Caller is the file:line of the logging statement.
	Caller string `json:"caller,omitempty"`
}

// jsonLevels maps each level to its JSON name. The index is the level's
// integer value, which is also accepted when unmarshaling.
var jsonLevels = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(jsonLevels) {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return json.Marshal(jsonLevels[l])
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts both
// level names and integers.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		var n int
		if json.Unmarshal(b, &n) != nil || n < 0 || n >= len(jsonLevels) {
			return fmt.Errorf("unknown level %q", b)
		}
		*l = Level(n)
		return nil
	}
	for lv, s := range jsonLevels {
		if s == name {
			*l = Level(lv)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", b)
}

// JSONEmitter logs messages in json format, one object per line.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	b, err := json.Marshal(jsonLog{
		Msg:    strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"),
		Level:  level,
		Time:   timestamp,
		Caller: caller(depth),
	})
	if err != nil {
		panic(err)
	}
	e.Writer.Write(append(b, '\n'))
}
