// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package validate holds the bit-exact name validation rules shared by
// entity ids, resource names, limit names and namespace names.
package validate

import "regexp"

const maxNameLen = 128

// namespaceNamePattern matches a letter-initial name up to 55 chars.
var namespaceNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,54}$`)

// Name validates an entity id, resource name or limit name: non-empty,
// <=128 chars, no control characters, no slashes.
func Name(s string) bool {
	if s == "" || len(s) > maxNameLen {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == '/' {
			return false
		}
	}
	return true
}

// NamespaceName validates a namespace's human-chosen name.
func NamespaceName(s string) bool {
	return namespaceNamePattern.MatchString(s)
}
