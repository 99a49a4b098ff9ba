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

// Package k8sutil holds small helpers shared by the build driver's job and
// pod bookkeeping.
package k8sutil

// ManagedByLabel marks objects shipyard created, so it can find its own
// Jobs and Pods without tracking IDs elsewhere.
const (
	ManagedByLabel = "shipyard.forge.build/managed-by"
	// BuildNameLabel carries the derived build name (see internal/naming)
	// onto the Job and its Pods.
	BuildNameLabel = "shipyard.forge.build/build-name"
	// ManagedByValue is the value ManagedByLabel is set to.
	ManagedByValue = "shipyard-build"
)

// BuildLabels returns the label set shipyard stamps on every Job and Pod it
// creates for a given build name.
func BuildLabels(buildName string) map[string]string {
	return map[string]string{
		ManagedByLabel: ManagedByValue,
		BuildNameLabel: buildName,
	}
}
