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

//go:build linux

package daemon

import "golang.org/x/sys/unix"

// dupFD makes newfd a copy of oldfd. dup2 does not exist on every Linux
// architecture; dup3 does.
func dupFD(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}
