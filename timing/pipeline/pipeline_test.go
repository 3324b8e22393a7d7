package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pipesim/asm"
	"github.com/sarchlab/pipesim/emu"
	"github.com/sarchlab/pipesim/timing/pipeline"
)

// makePipeline assembles source and builds a pipeline around it.
func makePipeline(source string) *pipeline.Pipeline {
	prog, err := asm.Assemble(source)
	Expect(err).ToNot(HaveOccurred())
	return pipeline.NewPipeline(
		emu.NewRegFile(),
		emu.NewInstructionMemory(prog.Words()),
		emu.NewDataMemory(),
	)
}

// runToHalt ticks until the pipeline drains, bounded by maxCycles.
func runToHalt(p *pipeline.Pipeline, maxCycles int) {
	for i := 0; i < maxCycles && !p.Halted(); i++ {
		p.Tick()
	}
	Expect(p.Halted()).To(BeTrue())
}

var _ = Describe("Pipeline", func() {
	Describe("straight-line arithmetic with forwarding", func() {
		It("should compute through EX/MEM and MEM/WB forwards with no stall", func() {
			p := makePipeline(`
				ADDI $r1,$r0,5
				ADDI $r2,$r0,7
				ADD $r3,$r1,$r2
			`)
			runToHalt(p, 20)

			rf := p.RegFile()
			Expect(rf.Read(1)).To(Equal(uint16(5)))
			Expect(rf.Read(2)).To(Equal(uint16(7)))
			Expect(rf.Read(3)).To(Equal(uint16(12)))

			Expect(p.Stats().Stalls).To(Equal(uint64(0)))
			Expect(p.Stats().Instructions).To(Equal(uint64(3)))
			Expect(p.Stats().Cycles).To(Equal(uint64(7)))

			sources := map[pipeline.ForwardSource]bool{}
			for _, f := range p.ForwardHistory() {
				sources[f.Source] = true
			}
			Expect(sources).To(HaveKey(pipeline.ForwardFromEXMEM))
			Expect(sources).To(HaveKey(pipeline.ForwardFromMEMWB))
		})
	})

	Describe("load-use hazard", func() {
		It("should stall exactly once for a dependent load", func() {
			p := makePipeline(`
				ADDI $r1,$r0,4
				SW $r1,0($r0)
				LW $r2,0($r0)
				ADD $r3,$r2,$r1
			`)
			runToHalt(p, 30)

			Expect(p.RegFile().Read(2)).To(Equal(uint16(4)))
			Expect(p.RegFile().Read(3)).To(Equal(uint16(8)))
			Expect(p.Stats().Stalls).To(Equal(uint64(1)))

			mem, initialized := p.DataMemory().Read(0)
			Expect(initialized).To(BeTrue())
			Expect(mem).To(Equal(uint16(4)))
		})

		It("should freeze PC and IF/ID and bubble ID/EX in the stall cycle", func() {
			p := makePipeline(`
				LW $r1,0($r0)
				ADD $r2,$r1,$r1
			`)
			// Cycle 1: fetch LW. Cycle 2: fetch ADD, decode LW.
			p.Tick()
			p.Tick()

			pcBefore := p.PC()
			heldInstr := p.IFID().Instr

			// Cycle 3: LW in EX, ADD blocked in ID.
			p.Tick()
			Expect(p.Events().Stall).To(BeTrue())
			Expect(p.Events().StallInfo.Type).To(Equal("Load-Use Hazard"))
			Expect(p.PC()).To(Equal(pcBefore))
			Expect(p.IFID().Valid).To(BeTrue())
			Expect(p.IFID().Instr).To(Equal(heldInstr))
			Expect(p.IDEX().Valid).To(BeFalse())
		})
	})

	Describe("branch resolution in ID", func() {
		It("should take an equal branch and flush the wrong path", func() {
			p := makePipeline(`
				ADDI $r1,$r0,5
				ADDI $r2,$r0,5
				BEQ $r1,$r2,2
				ADDI $r3,$r0,9
				ADDI $r3,$r0,9
				ADDI $r4,$r0,1
			`)
			runToHalt(p, 30)

			Expect(p.RegFile().Read(3)).To(Equal(uint16(0)))
			Expect(p.RegFile().Read(4)).To(Equal(uint16(1)))
			Expect(p.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should not flush an untaken branch", func() {
			p := makePipeline(`
				ADDI $r1,$r0,1
				BEQ $r1,$r0,1
				ADDI $r2,$r0,3
			`)
			runToHalt(p, 30)

			Expect(p.RegFile().Read(2)).To(Equal(uint16(3)))
			Expect(p.Stats().Flushes).To(Equal(uint64(0)))
		})

		It("should branch to offset 0, which lands on the next instruction", func() {
			p := makePipeline(`
				BEQ $r0,$r0,0
				ADDI $r1,$r0,1
			`)
			runToHalt(p, 30)

			Expect(p.RegFile().Read(1)).To(Equal(uint16(1)))
			Expect(p.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should self-loop on a taken branch with offset -1", func() {
			p := makePipeline("BEQ $r0,$r0,-1")
			for i := 0; i < 20; i++ {
				p.Tick()
			}

			Expect(p.Halted()).To(BeFalse())
			Expect(p.Stats().Flushes).To(BeNumerically(">", 3))
		})

		It("should record the control hazard on the taken cycle", func() {
			p := makePipeline(`
				BEQ $r0,$r0,1
				ADDI $r1,$r0,9
				ADDI $r2,$r0,1
			`)
			p.Tick() // fetch BEQ
			p.Tick() // decode BEQ: taken

			hazard := p.Events().ControlHazard
			Expect(hazard).ToNot(BeNil())
			Expect(hazard.Kind.String()).To(Equal("Branch"))
			Expect(hazard.TargetAddress).To(Equal(uint16(2)))
			Expect(hazard.FlushedInstr).To(Equal("ADDI $r1,$r0,9"))
			Expect(p.Events().FlushOccurred).To(BeTrue())
			Expect(p.IFID().Valid).To(BeFalse())
			Expect(p.IDEX().Valid).To(BeFalse())
		})
	})

	Describe("branch after load (resolve-in-ID limit)", func() {
		It("should stall twice, then take the branch on the loaded zero", func() {
			p := makePipeline(`
				LW $r1,0($r0)
				BEQ $r1,$r0,1
				ADDI $r2,$r0,9
				ADDI $r3,$r0,1
			`)
			p.DataMemory().Write(0, 0)
			runToHalt(p, 30)

			Expect(p.Stats().Stalls).To(Equal(uint64(2)))
			Expect(p.RegFile().Read(2)).To(Equal(uint16(0)))
			Expect(p.RegFile().Read(3)).To(Equal(uint16(1)))
		})

		It("should name the second stall category", func() {
			p := makePipeline(`
				LW $r1,0($r0)
				BEQ $r1,$r0,1
				NOP
			`)
			p.DataMemory().Write(0, 0)
			p.Tick() // fetch LW
			p.Tick() // decode LW, fetch BEQ
			p.Tick() // stall 1: load-use
			Expect(p.Events().StallInfo.Type).To(Equal("Load-Use Hazard"))
			p.Tick() // stall 2: load still in MEM
			Expect(p.Events().StallInfo.Type).To(Equal("Load-Use Hazard (Branch)"))
		})
	})

	Describe("jumps", func() {
		It("should link through JAL and return through JR", func() {
			p := makePipeline(`
				JAL 4
				NOP
				NOP
				NOP
				JR $r7
			`)
			// c1 fetch JAL; c2 decode JAL, redirect to 4;
			// c3 fetch JR; c4 decode JR, forwarded r7, redirect to 1.
			for i := 0; i < 4; i++ {
				p.Tick()
			}
			Expect(p.PC()).To(Equal(uint16(1)))

			// JAL reaches WB one cycle later and links r7 = 1.
			p.Tick()
			Expect(p.RegFile().Read(7)).To(Equal(uint16(1)))
		})

		It("should keep JAL in ID/EX but squash JUMP", func() {
			jal := makePipeline("JAL 3\nNOP\nNOP\nNOP")
			jal.Tick()
			jal.Tick()
			Expect(jal.IDEX().Valid).To(BeTrue())
			Expect(jal.IFID().Valid).To(BeFalse())

			jump := makePipeline("JUMP 3\nNOP\nNOP\nNOP")
			jump.Tick()
			jump.Tick()
			Expect(jump.IDEX().Valid).To(BeFalse())
			Expect(jump.IFID().Valid).To(BeFalse())
			Expect(jump.Events().ControlHazard.Kind.String()).To(Equal("Jump"))
		})
	})

	Describe("SLT signedness", func() {
		It("should set on 0 < 1", func() {
			p := makePipeline(`
				ADDI $r1,$r0,1
				SLT $r2,$r0,$r1
			`)
			runToHalt(p, 20)
			Expect(p.RegFile().Read(2)).To(Equal(uint16(1)))
		})

		It("should treat -1 as less than 0", func() {
			p := makePipeline(`
				ADDI $r1,$r0,-1
				SLT $r2,$r1,$r0
			`)
			runToHalt(p, 20)
			Expect(p.RegFile().Read(2)).To(Equal(uint16(1)))
		})
	})

	Describe("memory", func() {
		It("should warn on reads of never-written addresses", func() {
			p := makePipeline("LW $r1,5($r0)")
			var warning *pipeline.MemoryWarning
			for i := 0; i < 10 && !p.Halted(); i++ {
				p.Tick()
				if w := p.Events().MemoryWarning; w != nil {
					warning = w
				}
			}

			Expect(warning).ToNot(BeNil())
			Expect(warning.Address).To(Equal(uint16(5)))
			Expect(p.RegFile().Read(1)).To(Equal(uint16(0)))
		})

		It("should address stores as rs plus immediate", func() {
			p := makePipeline(`
				ADDI $r1,$r0,5
				ADDI $r2,$r0,21
				SW $r2,5($r1)
			`)
			runToHalt(p, 20)

			v, initialized := p.DataMemory().Read(10)
			Expect(initialized).To(BeTrue())
			Expect(v).To(Equal(uint16(21)))
		})

		// The store data path captures the forwarded ALU B input at EX.
		// A store consuming a load's destination back-to-back therefore
		// picks up the load's EX/MEM ALU result - the address - because
		// a store's rt is exempt from the load-use stall.
		It("should capture store data from the forwarded B input", func() {
			p := makePipeline(`
				LW $r1,0($r0)
				SW $r1,1($r0)
			`)
			p.DataMemory().Write(0, 7)
			runToHalt(p, 20)

			Expect(p.RegFile().Read(1)).To(Equal(uint16(7)))
			stored, _ := p.DataMemory().Read(1)
			Expect(stored).To(Equal(uint16(0)))
			Expect(p.Stats().Stalls).To(Equal(uint64(0)))
		})
	})

	Describe("architectural invariants", func() {
		It("should keep r0 at zero despite writes", func() {
			p := makePipeline(`
				ADDI $r0,$r0,5
				ADD $r0,$r0,$r0
			`)
			for !p.Halted() {
				p.Tick()
				Expect(p.RegFile().Read(0)).To(Equal(uint16(0)))
			}
		})

		It("should advance the cycle counter by one per tick", func() {
			p := makePipeline("ADDI $r1,$r0,1\nADDI $r2,$r0,2")
			for i := uint64(1); !p.Halted(); i++ {
				p.Tick()
				Expect(p.Stats().Cycles).To(Equal(i))
			}
		})

		It("should not tick once halted", func() {
			p := makePipeline("ADDI $r1,$r0,1")
			runToHalt(p, 20)

			cycles := p.Stats().Cycles
			p.Tick()
			Expect(p.Stats().Cycles).To(Equal(cycles))
		})

		It("should start halted with an empty program", func() {
			p := pipeline.NewPipeline(
				emu.NewRegFile(),
				emu.NewInstructionMemory(nil),
				emu.NewDataMemory(),
			)
			Expect(p.Halted()).To(BeTrue())
		})

		It("should flow explicit NOPs through the pipe as valid latches", func() {
			p := makePipeline("NOP\nNOP\nADDI $r1,$r0,1")
			runToHalt(p, 20)

			Expect(p.Stats().Instructions).To(Equal(uint64(3)))
			Expect(p.RegFile().Read(1)).To(Equal(uint16(1)))
		})
	})

	Describe("Clone", func() {
		It("should produce an isolated deep copy", func() {
			p := makePipeline(`
				ADDI $r1,$r0,4
				SW $r1,0($r0)
				LW $r2,0($r0)
				ADD $r3,$r2,$r1
			`)
			p.Tick()
			p.Tick()

			c := p.Clone()
			Expect(c.PC()).To(Equal(p.PC()))
			Expect(c.Stats()).To(Equal(p.Stats()))

			runToHalt(p, 30)

			Expect(c.Stats().Cycles).To(Equal(uint64(2)))
			Expect(c.RegFile().Read(1)).To(Equal(uint16(0)))
			Expect(c.DataMemory().Len()).To(Equal(0))
		})
	})
})
