/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package game

import (
	"regexp"
	"strings"
)

// riotIDPattern matches a Riot ID: a 3-16 character game name and a 3-5 character tagline
var riotIDPattern = regexp.MustCompile(`^[\p{L}\p{N} _.]{3,16}#[\p{L}\p{N}]{3,5}$`)

func validRiotID(account string) bool {
	account = strings.TrimSpace(account)
	if strings.Count(account, "#") != 1 {
		return false
	}
	return riotIDPattern.MatchString(account)
}
