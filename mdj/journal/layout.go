package journal

// FileLayout describes how an inode's byte stream is striped across objects.
// The journal uses the simple layout: one stripe, stripe unit equal to the
// object size, so segment k holds bytes [k*ObjectSize, (k+1)*ObjectSize).
type FileLayout struct {
	StripeUnit  uint32
	StripeCount uint32
	ObjectSize  uint32
	PoolID      uint32
}

const DefaultObjectSize = uint32(4 * 1024 * 1024)

func DefaultLayout(poolID uint32) FileLayout {
	return FileLayout{
		StripeUnit:  DefaultObjectSize,
		StripeCount: 1,
		ObjectSize:  DefaultObjectSize,
		PoolID:      poolID,
	}
}

// IsZero reports an absent layout, in which case callers substitute defaults.
func (l FileLayout) IsZero() bool {
	return l.StripeUnit == 0 && l.StripeCount == 0 && l.ObjectSize == 0
}
