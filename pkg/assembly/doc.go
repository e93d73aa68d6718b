// Package assembly is the in-memory representation and assembler for
// Udon-style VM programs: instructions, the data segment of typed heap
// slots, methods, and the Program that owns the assembly pipeline.
//
// # Pipeline
//
// A front end allocates symbols and emits instructions into methods, then
// runs the three stages, or Assemble for all of them:
//
//   - Finish: materializes event-parameter symbols and lays out each
//     method's terminal marker, trailer and epilogue.
//
//   - ApplyAddresses: assigns heap addresses (four bytes per symbol, in
//     insertion order), assigns byte addresses to instructions across all
//     methods, resolves jump targets and deferred method labels, then
//     fills in deferred return-address symbols.
//
//   - Export: renders the assembly text.
//
// A missing jump label fails ApplyAddresses and no text is produced.
//
// # Instruction identity
//
// Instructions are never removed. ConvertToNop retires an instruction to a
// zero-size no-op that keeps its identity, so a jump that targets it still
// resolves, to the address of whatever follows. Each method ends in such a
// retired marker (Method.End) that serves as the "return" jump target.
//
// # Composition
//
// Clone, Merge and AddNamespace let independently assembled programs be
// combined. Symbols and instructions carry an arena index within their
// program; the Remap values these operations return are index tables.
//
// # Text format
//
//	.data_start
//	  .export <name>
//	  .sync <name>, <none|linear|smooth>
//	  <name>: %<type-signature>, <this|null>
//	.data_end
//	.code_start
//	  .update_order <int>
//	  .export <method>
//	  <method>:
//	    <OPERATION>[, <operand>]
//	.code_end
//
// ReadText and Rebuild go the other way, from text (or a Disassembly) back
// to a Program.
package assembly
