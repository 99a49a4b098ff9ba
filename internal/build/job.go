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

// Package build implements the container-image build driver: it submits a
// Kubernetes Job that clones a repository at a ref and pushes the built
// image to a registry, and relays the Job's pod lifecycle and logs onto a
// Progress Channel.
package build

import (
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/forge-build/shipyard/internal/k8sutil"
)

const containerName = "image-builder"

// JobBuilder constructs the batchv1.Job that performs one image build. It
// mirrors the fluent With* builder the rest of the build-driver code uses,
// so a caller only sets the fields a particular request needs.
type JobBuilder struct {
	name      string
	namespace string

	gitURL       string
	ref          string
	imageName    string
	pushSecret   string
	builderImage string

	timeout      time.Duration
	backoffLimit int32
	annotations  map[string]string
}

func NewJobBuilder() *JobBuilder {
	return &JobBuilder{backoffLimit: 0}
}

func (b *JobBuilder) WithName(name string) *JobBuilder {
	b.name = name
	return b
}

func (b *JobBuilder) WithNamespace(ns string) *JobBuilder {
	b.namespace = ns
	return b
}

func (b *JobBuilder) WithGitURL(url string) *JobBuilder {
	b.gitURL = url
	return b
}

func (b *JobBuilder) WithRef(ref string) *JobBuilder {
	b.ref = ref
	return b
}

func (b *JobBuilder) WithImageName(image string) *JobBuilder {
	b.imageName = image
	return b
}

func (b *JobBuilder) WithPushSecret(secret string) *JobBuilder {
	b.pushSecret = secret
	return b
}

func (b *JobBuilder) WithBuilderImage(image string) *JobBuilder {
	b.builderImage = image
	return b
}

func (b *JobBuilder) WithTimeout(timeout time.Duration) *JobBuilder {
	b.timeout = timeout
	return b
}

func (b *JobBuilder) WithBackoffLimit(limit int32) *JobBuilder {
	b.backoffLimit = limit
	return b
}

func (b *JobBuilder) WithAnnotations(annotations map[string]string) *JobBuilder {
	b.annotations = annotations
	return b
}

// Build renders the Job. It returns an error only when required fields are
// missing, so a misconfigured request fails before ever touching the
// cluster.
func (b *JobBuilder) Build() (*batchv1.Job, error) {
	if b.name == "" || b.gitURL == "" || b.ref == "" || b.imageName == "" || b.builderImage == "" {
		return nil, fmt.Errorf("build: job %q missing required field(s)", b.name)
	}

	labels := k8sutil.BuildLabels(b.name)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        jobName(b.name),
			Namespace:   b.namespace,
			Labels:      labels,
			Annotations: b.annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          ptr.To(b.backoffLimit),
			Completions:           ptr.To(int32(1)),
			ActiveDeadlineSeconds: durationSecondsPtr(b.timeout),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       b.podSpec(),
			},
		},
	}
	return job, nil
}

func (b *JobBuilder) podSpec() corev1.PodSpec {
	volumeMounts := []corev1.VolumeMount{}
	volumes := []corev1.Volume{}

	if b.pushSecret != "" {
		volumes = append(volumes, corev1.Volume{
			Name: "push-secret",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: b.pushSecret},
			},
		})
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      "push-secret",
			ReadOnly:  true,
			MountPath: "/var/run/secrets/push",
		})
	}

	return corev1.PodSpec{
		RestartPolicy:   corev1.RestartPolicyNever,
		Affinity:        linuxNodeAffinity(),
		SecurityContext: &corev1.PodSecurityContext{},
		Volumes:         volumes,
		Containers: []corev1.Container{
			{
				Name:                     containerName,
				Image:                    b.builderImage,
				ImagePullPolicy:          corev1.PullIfNotPresent,
				TerminationMessagePolicy: corev1.TerminationMessageFallbackToLogsOnError,
				Args: []string{
					"--git-url", b.gitURL,
					"--ref", b.ref,
					"--image-name", b.imageName,
				},
				VolumeMounts: volumeMounts,
			},
		},
	}
}

func jobName(buildName string) string {
	return fmt.Sprintf("shipyard-build-%s", buildName)
}

func durationSecondsPtr(d time.Duration) *int64 {
	if d > 0 {
		return ptr.To(int64(d.Seconds()))
	}
	return nil
}

func linuxNodeAffinity() *corev1.Affinity {
	return &corev1.Affinity{
		NodeAffinity: &corev1.NodeAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
				NodeSelectorTerms: []corev1.NodeSelectorTerm{
					{
						MatchExpressions: []corev1.NodeSelectorRequirement{
							{
								Key:      "kubernetes.io/os",
								Operator: corev1.NodeSelectorOpIn,
								Values:   []string{"linux"},
							},
						},
					},
				},
			},
		},
	}
}
