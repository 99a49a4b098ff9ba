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

package build

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/go-logr/logr"

	"github.com/forge-build/shipyard/internal/events"
)

// Spec describes one build, matching the build driver contract.
type Spec struct {
	Name         string
	Namespace    string
	GitURL       string
	Ref          string
	ImageName    string
	PushSecret   string
	BuilderImage string
	Timeout      time.Duration
}

// Driver is the build driver contract: Submit watches pod-lifecycle
// phases onto the queue until the pod reaches a terminal state;
// StreamLogs tails the build container's output onto the same queue.
// Both block and are meant to run on the bounded worker pool.
type Driver interface {
	Submit(ctx context.Context, spec Spec, q *events.Queue) error
	StreamLogs(ctx context.Context, spec Spec, q *events.Queue) error
}

// JobDriver is the real Driver, backed by a Kubernetes Job.
type JobDriver struct {
	Clientset kubernetes.Interface
	Log       logr.Logger
}

func (d *JobDriver) log() logr.Logger {
	if d.Log.GetSink() == nil {
		return logr.Discard()
	}
	return d.Log
}

// Submit creates the Job, watches its pod through Pending/Running to a
// terminal phase, and posts PhaseChange items. It returns once the pod has
// reached Succeeded or Failed (mapped to PhaseDeleted/PhaseFailedUnrecoverable
// per the Build Session's contract), or ctx is canceled.
func (d *JobDriver) Submit(ctx context.Context, spec Spec, q *events.Queue) error {
	jb := NewJobBuilder().
		WithName(spec.Name).
		WithNamespace(spec.Namespace).
		WithGitURL(spec.GitURL).
		WithRef(spec.Ref).
		WithImageName(spec.ImageName).
		WithPushSecret(spec.PushSecret).
		WithBuilderImage(spec.BuilderImage).
		WithTimeout(spec.Timeout)

	job, err := jb.Build()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	created, err := d.Clientset.BatchV1().Jobs(spec.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("build: create job: %w", err)
	}
	d.log().Info("created build job", "job", klog.KObj(created))

	return d.watchPod(ctx, spec, job.Name, q)
}

func (d *JobDriver) watchPod(ctx context.Context, spec Spec, jobName string, q *events.Queue) error {
	selector := labels.SelectorFromSet(labels.Set{"job-name": jobName}).String()
	var lastPhase corev1.PodPhase

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pods, err := d.Clientset.CoreV1().Pods(spec.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
			if err != nil || len(pods.Items) == 0 {
				continue
			}
			pod := pods.Items[0]
			if pod.Status.Phase == lastPhase {
				continue
			}
			lastPhase = pod.Status.Phase
			d.log().Info("observed build pod phase change", "pod", klog.KObj(&pod), "phase", pod.Status.Phase)

			switch pod.Status.Phase {
			case corev1.PodPending:
				q.Push(events.NewPhaseChange(events.PhasePending))
			case corev1.PodRunning:
				q.Push(events.NewPhaseChange(events.PhaseRunning))
			case corev1.PodSucceeded:
				q.Push(events.NewPhaseChange(events.PhaseSucceeded))
				q.Push(events.NewPhaseChange(events.PhaseDeleted))
				return nil
			case corev1.PodFailed:
				q.Push(events.NewPhaseChange(events.PhaseFailedUnrecoverable))
				return nil
			}
		}
	}
}

// StreamLogs tails the build container's stdout, forwarding each line as
// a LogLine progress item. It returns when the container stream ends or
// ctx is canceled; it does not itself signal end-of-build, since Submit's
// terminal PhaseChange already owns that.
func (d *JobDriver) StreamLogs(ctx context.Context, spec Spec, q *events.Queue) error {
	selector := labels.SelectorFromSet(labels.Set{"job-name": jobName(spec.Name)}).String()
	pods, err := d.Clientset.CoreV1().Pods(spec.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil || len(pods.Items) == 0 {
		return fmt.Errorf("build: no pod found for job %s", jobName(spec.Name))
	}
	podName := pods.Items[0].Name

	req := d.Clientset.CoreV1().Pods(spec.Namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
		Follow:    true,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("build: open log stream: %w", err)
	}
	defer stream.Close()

	return streamLines(ctx, stream, q)
}
