// Copyright 2026 The gVisor Authors.
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

package script

import (
	_ "embed"
	"fmt"
)

//go:embed demo.toml
var demoScript []byte

// DemoName is the name of the embedded demonstration script.
const DemoName = "demo.toml"

// Demo returns the embedded demonstration script. It creates four processes,
// touches pages of each and reports free space and mappings as they change.
func Demo() *Script {
	s, err := Parse(DemoName, demoScript)
	if err != nil {
		panic(fmt.Sprintf("embedded demo script: %v", err))
	}
	return s
}

// DemoSource returns the text of the embedded demonstration script.
func DemoSource() []byte {
	return append([]byte(nil), demoScript...)
}
