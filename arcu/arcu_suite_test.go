/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arcu_test

import (
	"context"
	"testing"
	"time"

	"github.com/NVIDIA/aisarc/arcu"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestArcu(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Arcu Suite")
}

var _ = Describe("Arcu", func() {
	It("loads the value it was constructed with", func() {
		r := arcu.New(7)
		defer r.Close()
		Expect(r.Load()).To(Equal(7))
	})

	It("lags a replace until the handle explicitly updates", func() {
		a := arcu.New(5)
		defer a.Close()

		a.Replace(10)
		Expect(a.Load()).To(Equal(5))

		Expect(a.Update()).To(BeTrue())
		Expect(a.Load()).To(Equal(10))
	})

	It("never advances a clone that merely observes another clone's replace", func() {
		r := arcu.New("v0")
		defer r.Close()
		c := r.Clone()
		defer c.Close()

		r.Replace("v1")
		Expect(c.Load()).To(Equal("v0"))
		Expect(c.UpdateLatest()).To(BeTrue())
		Expect(c.Load()).To(Equal("v1"))
	})

	It("wakes a pending Observe call when a Replace lands on the chain", func() {
		r := arcu.New(1)
		defer r.Close()

		done := make(chan struct{})
		var fresh *arcu.Ref[int]
		var obsErr error
		go func() {
			defer close(done)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			fresh, obsErr = r.Observe(ctx)
		}()

		time.Sleep(10 * time.Millisecond)
		r.Replace(99)

		Eventually(done, time.Second).Should(BeClosed())
		Expect(obsErr).NotTo(HaveOccurred())
		defer fresh.Close()
		Expect(fresh.Load()).To(Equal(99))
	})

	It("keeps refcount consistent across n clones and m drops", func() {
		r := arcu.New(0)
		defer r.Close()
		const n, m = 9, 4
		clones := make([]*arcu.Ref[int], n)
		for i := range clones {
			clones[i] = r.Clone()
		}
		for i := 0; i < m; i++ {
			clones[i].Close()
		}
		Expect(r.RefCount()).To(Equal(int64(1 + n - m)))
		for i := m; i < n; i++ {
			clones[i].Close()
		}
	})
})
