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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// glogTime is the timestamp layout of a glog header, without the level.
const glogTime = "0102 15:04:05.000000"

// pid is the threadid column of the header. glog pads it to 7 columns.
var pid = fmt.Sprintf("%7d", os.Getpid())

// caller returns the file:line of the frame depth levels above its caller,
// or "???:0" if it cannot be determined.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		return "???:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Emit emits the message, google-style. Lines have the form
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg
//
// where L is the first letter of the level.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var b strings.Builder
	b.WriteByte(level.String()[0])
	b.WriteString(timestamp.Format(glogTime))
	b.WriteByte(' ')
	b.WriteString(pid)
	b.WriteByte(' ')
	b.WriteString(caller(depth))
	b.WriteString("] ")
	b.WriteString(format)
	b.WriteByte('\n')

	// The header becomes part of the format passed down.
	g.Emitter.Emit(depth, level, timestamp, b.String(), args...)
}
