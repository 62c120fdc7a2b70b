/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arclog_test

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/aisarc/arclog"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestArcLog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ArcLog Suite")
}

var _ = Describe("ArcLog", func() {
	It("appends and reads back in a single goroutine", func() {
		l := arclog.New[int]()
		defer l.Close()
		for i := 1; i <= 6; i++ {
			l.AppendSpin(i)
		}
		Expect(l.Len()).To(Equal(6))
		for i := 0; i < 6; i++ {
			v, ok := l.At(i)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(i + 1))
		}
	})

	It("lets a clone lag behind until it explicitly updates", func() {
		v := arclog.New[int]()
		defer v.Close()
		v2 := v.Clone()
		defer v2.Close()

		v.AppendSpin(1)
		v.AppendSpin(2)
		Expect(v2.Len()).To(Equal(0))

		Expect(v2.Update()).To(BeTrue())
		Expect(v2.Len()).To(Equal(2))
	})

	It("fans four labeled appenders and a zero-appending main thread into one bijective log", func() {
		v := arclog.New[int]()
		defer v.Close()

		var grp errgroup.Group
		for label := 1; label <= 4; label++ {
			label := label
			grp.Go(func() error {
				h := v.Clone()
				defer h.Close()
				for i := 0; i < 100; i++ {
					h.AppendSpin(label)
				}
				return nil
			})
		}

		for i := 0; i < 50; i++ {
			v.AppendSpin(0)
		}

		Expect(grp.Wait()).To(Succeed())
		v.Update()

		Expect(v.Len()).To(Equal(450))

		counts := make(map[int]int)
		for i := 0; i < v.Len(); i++ {
			val, ok := v.At(i)
			Expect(ok).To(BeTrue())
			counts[val]++
		}
		Expect(counts[0]).To(Equal(50))
		for label := 1; label <= 4; label++ {
			Expect(counts[label]).To(Equal(100))
		}
	})

	It("rejects a fenced append whose fence has already been exceeded", func() {
		l := arclog.New[int]()
		defer l.Close()
		l.AppendSpin(1, 2, 3)
		_, ok := l.AppendOneShotFenced(1, 99)
		Expect(ok).To(BeFalse())
		Expect(l.Len()).To(Equal(3))
	})

	It("leaves refcount at original+n-m after n clones and m drops", func() {
		l := arclog.New[int]()
		defer l.Close()
		const n, m = 7, 3
		clones := make([]*arclog.Log[int], n)
		for i := range clones {
			clones[i] = l.Clone()
		}
		for i := 0; i < m; i++ {
			clones[i].Close()
		}
		Expect(l.RefCount()).To(Equal(int64(1 + n - m)))
		for i := m; i < n; i++ {
			clones[i].Close()
		}
	})
})
