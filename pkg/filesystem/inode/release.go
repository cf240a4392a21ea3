package inode

// release returns all data sectors and index blocks referenced by the
// pointer tree to the allocator. The tree is walked iteratively, one
// top-level pointer at a time, only visiting the part of the tree that
// the frontier marks as populated.
//
// If an index block cannot be loaded, the sectors it refers to are
// leaked, but the walk continues. The first error is returned.
func (t *pointerTree) release(ts treeStorage) error {
	var firstErr error
	var released []uint32
	for pointer := 0; pointer < pointerCount; pointer++ {
		dataSectors := t.getDataSectorsBelow(pointer)
		if dataSectors == 0 {
			continue
		}
		root := t.pointers[pointer]

		switch {
		case pointer < firstIndirectPointer:
			released = append(released, root)
		case pointer < firstDoubleIndirectPointer:
			var block indexBlock
			if err := block.load(ts.cache, root); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				released = append(released, block[:dataSectors]...)
			}
			released = append(released, root)
		default:
			var outerBlock indexBlock
			if err := outerBlock.load(ts.cache, root); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				for entry := 0; entry*pointersPerIndexBlock < dataSectors; entry++ {
					innerRoot := outerBlock[entry]
					var innerBlock indexBlock
					if err := innerBlock.load(ts.cache, innerRoot); err != nil {
						if firstErr == nil {
							firstErr = err
						}
					} else {
						released = append(released, innerBlock[:min(pointersPerIndexBlock, dataSectors-entry*pointersPerIndexBlock)]...)
					}
					released = append(released, innerRoot)
				}
			}
			released = append(released, root)
		}

		// Hand back sectors one subtree at a time.
		ts.allocator.FreeList(released)
		released = released[:0]
	}
	return firstErr
}
