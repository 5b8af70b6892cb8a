package verstore

// aaTreeNodes abstracts the storage of an AA-tree so the same
// insert/rebalance logic serves both the blob-wide key tree and each key's
// per-subkey tree, without the nodes themselves needing to know which tree
// they belong to.
//
// AA-trees (Arne Andersson, 1993) are a simplification of red-black trees
// with a single "level" integer per node instead of a color plus a parent
// pointer, and exactly two rebalancing operations (skew, split) applied
// bottom-up after insertion. They are used here only by the writer, to
// keep the linked list of keys/subkeys in sorted iteration order with
// O(log n) insertion; readers never touch the tree fields, only the next
// pointers of the resulting list.
type aaTreeNodes interface {
	left(node uint32) uint32
	right(node uint32) uint32
	level(node uint32) uint32
	setLeft(node, child uint32)
	setRight(node, child uint32)
	setLevel(node, level uint32)
	// less reports whether a sorts before b.
	less(a, b uint32) bool
}

const aaNil = invalidDataBlockLocation

func aaLevelOf(nodes aaTreeNodes, node uint32) uint32 {
	if node == aaNil {
		return 0
	}
	return nodes.level(node)
}

// skew removes left horizontal links by rotating right.
func aaSkew(nodes aaTreeNodes, root uint32) uint32 {
	if root == aaNil {
		return root
	}
	left := nodes.left(root)
	if left == aaNil || nodes.level(left) != nodes.level(root) {
		return root
	}
	// Rotate right: left becomes the new root.
	nodes.setLeft(root, nodes.right(left))
	nodes.setRight(left, root)
	return left
}

// split removes consecutive horizontal links (a right-right chain at the
// same level) by rotating left.
func aaSplit(nodes aaTreeNodes, root uint32) uint32 {
	if root == aaNil {
		return root
	}
	right := nodes.right(root)
	if right == aaNil {
		return root
	}
	rightRight := nodes.right(right)
	if rightRight == aaNil || nodes.level(rightRight) != nodes.level(root) {
		return root
	}
	// Rotate left: right becomes the new root, and its level increases.
	nodes.setRight(root, nodes.left(right))
	nodes.setLeft(right, root)
	nodes.setLevel(right, nodes.level(right)+1)
	return right
}

// aaInsert inserts node (already initialized with level 1 and nil
// children) into the tree rooted at root, returning the new root. node
// must not already be present in the tree (callers look it up via
// FindState first and only insert on a genuine miss).
func aaInsert(nodes aaTreeNodes, root, node uint32) uint32 {
	if root == aaNil {
		return node
	}

	if nodes.less(node, root) {
		nodes.setLeft(root, aaInsert(nodes, nodes.left(root), node))
	} else {
		nodes.setRight(root, aaInsert(nodes, nodes.right(root), node))
	}

	root = aaSkew(nodes, root)
	root = aaSplit(nodes, root)
	return root
}

// aaFindInsertionPredecessor walks the tree to find the node that should
// immediately precede a new key in sorted order, i.e. the greatest node
// less than the new key, or aaNil if the new key would be the smallest.
// Used to splice a freshly inserted state block into the sorted linked
// list in O(log n) instead of re-scanning the whole list.
func aaFindInsertionPredecessor(nodes aaTreeNodes, root, node uint32) uint32 {
	predecessor := uint32(aaNil)
	cur := root
	for cur != aaNil {
		if nodes.less(cur, node) {
			predecessor = cur
			cur = nodes.right(cur)
		} else {
			cur = nodes.left(cur)
		}
	}
	return predecessor
}
