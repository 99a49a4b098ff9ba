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
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forge-build/shipyard/internal/events"
)

func newTestSpec() Spec {
	return Spec{
		Name:         "build1",
		Namespace:    "ns",
		GitURL:       "https://example.org/a/b.git",
		Ref:          "deadbeef",
		ImageName:    "registry.example.org/a-b:deadbeef",
		BuilderImage: "builder:latest",
		Timeout:      time.Minute,
	}
}

func newPod(name, jobLabel string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns",
			Labels:    map[string]string{"job-name": jobLabel},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

var _ = Describe("JobDriver", func() {
	// The fake clientset never runs a Job controller, so each spec plays
	// that role: create the pod a real cluster's scheduler would, then
	// advance it once watchPod has had a chance to observe it.

	It("watches a pod from Running to Succeeded and reports completion", func() {
		spec := newTestSpec()
		clientset := fake.NewSimpleClientset()
		driver := &JobDriver{Clientset: clientset}
		q := events.NewQueue(16)
		resultJobName := jobName(spec.Name)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- driver.Submit(ctx, spec, q) }()

		time.Sleep(100 * time.Millisecond)
		pod := newPod("build1-pod", resultJobName, corev1.PodRunning)
		_, err := clientset.CoreV1().Pods("ns").Create(ctx, pod, metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		var items []events.ProgressItem
		done := make(chan struct{})
		go func() {
			for item := range q.C() {
				items = append(items, item)
				if item.PhaseChange != nil && item.PhaseChange.Phase == events.PhaseDeleted {
					close(done)
					return
				}
			}
		}()

		time.Sleep(2500 * time.Millisecond)
		pod.Status.Phase = corev1.PodSucceeded
		_, err = clientset.CoreV1().Pods("ns").Update(ctx, pod, metav1.UpdateOptions{})
		Expect(err).NotTo(HaveOccurred())

		Eventually(errCh, 8*time.Second).Should(Receive(BeNil()))
		Eventually(done, time.Second).Should(BeClosed())

		var sawRunning, sawSucceeded, sawDeleted bool
		for _, item := range items {
			if item.PhaseChange == nil {
				continue
			}
			switch item.PhaseChange.Phase {
			case events.PhaseRunning:
				sawRunning = true
			case events.PhaseSucceeded:
				sawSucceeded = true
			case events.PhaseDeleted:
				sawDeleted = true
			}
		}
		Expect(sawRunning).To(BeTrue())
		Expect(sawSucceeded).To(BeTrue())
		Expect(sawDeleted).To(BeTrue())
	})

	It("reports a FailedUnrecoverable phase change when the pod fails", func() {
		spec := newTestSpec()
		clientset := fake.NewSimpleClientset()
		driver := &JobDriver{Clientset: clientset}
		q := events.NewQueue(16)
		resultJobName := jobName(spec.Name)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- driver.Submit(ctx, spec, q) }()

		time.Sleep(100 * time.Millisecond)
		pod := newPod("build1-pod", resultJobName, corev1.PodFailed)
		_, err := clientset.CoreV1().Pods("ns").Create(ctx, pod, metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		Eventually(errCh, 8*time.Second).Should(Receive(BeNil()))

		var item events.ProgressItem
		Eventually(q.C()).Should(Receive(&item))
		Expect(item.PhaseChange).NotTo(BeNil())
		Expect(item.PhaseChange.Phase).To(Equal(events.PhaseFailedUnrecoverable))
	})

	It("forwards log lines for a running pod", func() {
		spec := newTestSpec()
		clientset := fake.NewSimpleClientset()
		driver := &JobDriver{Clientset: clientset}
		q := events.NewQueue(16)
		resultJobName := jobName(spec.Name)

		ctx := context.Background()
		pod := newPod("build1-pod", resultJobName, corev1.PodRunning)
		_, err := clientset.CoreV1().Pods("ns").Create(ctx, pod, metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		Expect(driver.StreamLogs(ctx, spec, q)).To(Succeed())

		var item events.ProgressItem
		Eventually(q.C()).Should(Receive(&item))
		Expect(item.LogLine).NotTo(BeNil())
	})

	It("errors when no pod exists for the job", func() {
		spec := newTestSpec()
		clientset := fake.NewSimpleClientset()
		driver := &JobDriver{Clientset: clientset}
		q := events.NewQueue(16)

		err := driver.StreamLogs(context.Background(), spec, q)
		Expect(err).To(HaveOccurred())
	})
})
