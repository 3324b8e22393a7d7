package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pipesim/insts"
	"github.com/sarchlab/pipesim/timing/pipeline"
)

var _ = Describe("HazardUnit", func() {
	var (
		hazardUnit *pipeline.HazardUnit
		decoder    *insts.Decoder
	)

	BeforeEach(func() {
		hazardUnit = pipeline.NewHazardUnit()
		decoder = insts.NewDecoder()
	})

	Describe("DetectForwarding", func() {
		var (
			idex  *pipeline.IDEXRegister
			exmem *pipeline.EXMEMRegister
			memwb *pipeline.MEMWBRegister
		)

		BeforeEach(func() {
			idex = &pipeline.IDEXRegister{Valid: true, Rs: 1, Rt: 2}
			exmem = &pipeline.EXMEMRegister{}
			memwb = &pipeline.MEMWBRegister{}
		})

		Context("when no producer matches", func() {
			It("should return ForwardNone for both operands", func() {
				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardNone))
				Expect(result.ForwardB).To(Equal(pipeline.ForwardNone))
			})
		})

		Context("when EX/MEM writes a source register", func() {
			It("should forward A from EX/MEM", func() {
				exmem.Valid = true
				exmem.RegWrite = true
				exmem.WriteReg = 1

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardFromEXMEM))
				Expect(result.ForwardB).To(Equal(pipeline.ForwardNone))
			})

			It("should forward B from EX/MEM", func() {
				exmem.Valid = true
				exmem.RegWrite = true
				exmem.WriteReg = 2

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardB).To(Equal(pipeline.ForwardFromEXMEM))
			})
		})

		Context("when MEM/WB writes a source register", func() {
			It("should forward from MEM/WB", func() {
				memwb.Valid = true
				memwb.RegWrite = true
				memwb.WriteReg = 1

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardFromMEMWB))
			})
		})

		Context("when both latches write the same register", func() {
			It("should prioritize EX/MEM", func() {
				exmem.Valid = true
				exmem.RegWrite = true
				exmem.WriteReg = 1
				memwb.Valid = true
				memwb.RegWrite = true
				memwb.WriteReg = 1

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardFromEXMEM))
			})
		})

		Context("r0 handling", func() {
			It("should never forward r0", func() {
				idex.Rs = 0
				exmem.Valid = true
				exmem.RegWrite = true
				exmem.WriteReg = 0

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardNone))
			})
		})

		Context("with an invalid ID/EX latch", func() {
			It("should not forward", func() {
				idex.Valid = false
				exmem.Valid = true
				exmem.RegWrite = true
				exmem.WriteReg = 1

				result := hazardUnit.DetectForwarding(idex, exmem, memwb)

				Expect(result.ForwardA).To(Equal(pipeline.ForwardNone))
			})
		})
	})

	Describe("ForwardedValue", func() {
		It("should take the EX/MEM ALU result", func() {
			exmem := &pipeline.EXMEMRegister{ALUResult: 99}

			v := hazardUnit.ForwardedValue(pipeline.ForwardFromEXMEM, 1, exmem, nil)

			Expect(v).To(Equal(uint16(99)))
		})

		It("should take the MEM/WB write-back mux output for loads", func() {
			memwb := &pipeline.MEMWBRegister{
				ALUResult: 5,
				MemData:   77,
				ResultSel: pipeline.ResultMem,
			}

			v := hazardUnit.ForwardedValue(pipeline.ForwardFromMEMWB, 1, nil, memwb)

			Expect(v).To(Equal(uint16(77)))
		})

		It("should keep the original value without forwarding", func() {
			v := hazardUnit.ForwardedValue(pipeline.ForwardNone, 42, nil, nil)

			Expect(v).To(Equal(uint16(42)))
		})
	})

	Describe("DetectIDForward", func() {
		It("should prefer the current-cycle EX output over both latches", func() {
			currentEX := &pipeline.EXMEMRegister{
				Valid: true, RegWrite: true, WriteReg: 3, ALUResult: 30,
			}
			exmem := &pipeline.EXMEMRegister{
				Valid: true, RegWrite: true, WriteReg: 3, ALUResult: 20,
			}
			memwb := &pipeline.MEMWBRegister{
				Valid: true, RegWrite: true, WriteReg: 3, ALUResult: 10,
			}

			v, src := hazardUnit.DetectIDForward(3, currentEX, exmem, memwb)

			Expect(src).To(Equal(pipeline.ForwardFromIDEX))
			Expect(v).To(Equal(uint16(30)))
		})

		It("should fall back to EX/MEM, then MEM/WB", func() {
			empty := &pipeline.EXMEMRegister{}
			exmem := &pipeline.EXMEMRegister{
				Valid: true, RegWrite: true, WriteReg: 3, ALUResult: 20,
			}
			memwb := &pipeline.MEMWBRegister{
				Valid: true, RegWrite: true, WriteReg: 3, ALUResult: 10,
			}

			v, src := hazardUnit.DetectIDForward(3, empty, exmem, memwb)
			Expect(src).To(Equal(pipeline.ForwardFromEXMEM))
			Expect(v).To(Equal(uint16(20)))

			v, src = hazardUnit.DetectIDForward(3, empty, empty, memwb)
			Expect(src).To(Equal(pipeline.ForwardFromMEMWB))
			Expect(v).To(Equal(uint16(10)))
		})

		It("should not bypass r0", func() {
			currentEX := &pipeline.EXMEMRegister{
				Valid: true, RegWrite: true, WriteReg: 0, ALUResult: 30,
			}

			_, src := hazardUnit.DetectIDForward(0, currentEX, currentEX, &pipeline.MEMWBRegister{})

			Expect(src).To(Equal(pipeline.ForwardNone))
		})
	})

	Describe("DetectLoadUse", func() {
		load := func(dest uint8) *pipeline.IDEXRegister {
			return &pipeline.IDEXRegister{
				Valid: true, MemRead: true, RegWrite: true, WriteReg: dest,
			}
		}

		It("should stall an ALU consumer of the load destination", func() {
			// ADD $r3,$r1,$r2 consumes r1
			inst := decoder.Decode(0x0298)

			reg, stall := hazardUnit.DetectLoadUse(inst, load(1))

			Expect(stall).To(BeTrue())
			Expect(reg).To(Equal(uint8(1)))
		})

		It("should stall a branch consumer", func() {
			// BEQ $r1,$r2,2
			inst := decoder.Decode(0x6282)

			_, stall := hazardUnit.DetectLoadUse(inst, load(2))

			Expect(stall).To(BeTrue())
		})

		It("should not stall when the consumer reads other registers", func() {
			inst := decoder.Decode(0x0298)

			_, stall := hazardUnit.DetectLoadUse(inst, load(4))

			Expect(stall).To(BeFalse())
		})

		It("should exempt a store's rt", func() {
			// SW $r1,3($r4): rt is store data, satisfied at EX
			inst := decoder.Decode(0x2843)

			_, stall := hazardUnit.DetectLoadUse(inst, load(1))

			Expect(stall).To(BeFalse())
		})

		It("should still stall a store's base register", func() {
			inst := decoder.Decode(0x2843)

			_, stall := hazardUnit.DetectLoadUse(inst, load(4))

			Expect(stall).To(BeTrue())
		})

		It("should ignore non-load producers", func() {
			inst := decoder.Decode(0x0298)
			producer := &pipeline.IDEXRegister{
				Valid: true, RegWrite: true, WriteReg: 1,
			}

			_, stall := hazardUnit.DetectLoadUse(inst, producer)

			Expect(stall).To(BeFalse())
		})
	})

	Describe("DetectBranchLoad", func() {
		loadInMEM := func(dest uint8) *pipeline.EXMEMRegister {
			return &pipeline.EXMEMRegister{
				Valid: true, MemRead: true, RegWrite: true, WriteReg: dest,
			}
		}

		It("should stall a branch on a load still in MEM", func() {
			inst := decoder.Decode(0x6282) // BEQ $r1,$r2,2

			reg, stall := hazardUnit.DetectBranchLoad(inst, loadInMEM(2))

			Expect(stall).To(BeTrue())
			Expect(reg).To(Equal(uint8(2)))
		})

		It("should stall JR on a load still in MEM", func() {
			inst := decoder.Decode(0x0E05) // JR $r7

			_, stall := hazardUnit.DetectBranchLoad(inst, loadInMEM(7))

			Expect(stall).To(BeTrue())
		})

		It("should not stall non-control instructions", func() {
			inst := decoder.Decode(0x0298) // ADD consumes via MEM/WB forwarding

			_, stall := hazardUnit.DetectBranchLoad(inst, loadInMEM(1))

			Expect(stall).To(BeFalse())
		})

		It("should not stall when the producer is not a load", func() {
			inst := decoder.Decode(0x6282)
			producer := &pipeline.EXMEMRegister{
				Valid: true, RegWrite: true, WriteReg: 1,
			}

			_, stall := hazardUnit.DetectBranchLoad(inst, producer)

			Expect(stall).To(BeFalse())
		})
	})
})
