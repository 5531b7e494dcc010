/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	_ "embed"
	"fmt"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed project.schema.json
var projectSchema []byte

// ValidateProjectJSON checks a raw project response against the embedded
// wire-format schema. The API client runs it in strict mode so a drifting
// backend fails loudly instead of silently producing empty fields.
func ValidateProjectJSON(data []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(projectSchema)
	docLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validate: %w", err)
	}
	if !result.Valid() {
		first := ""
		if errs := result.Errors(); len(errs) > 0 {
			first = errs[0].String()
		}
		return fmt.Errorf("project payload does not conform to schema: %s", first)
	}
	return nil
}
