package blockctx

// Unzigzag49 lists the raster positions of the 7x7 coefficients in scan order.
var Unzigzag49 = [49]uint8{
	9, 10, 17, 25, 18, 11, 12,
	19, 26, 33, 41, 34, 27, 20,
	13, 14, 21, 28, 35, 42, 49,
	57, 50, 43, 36, 29, 22, 15,
	23, 30, 37, 44, 51, 58, 59,
	52, 45, 38, 31, 39, 46, 53,
	60, 61, 54, 47, 55, 62, 63,
}

// NonzeroToBin buckets a nonzero count in [0, 49] into one of 9 bins.
var NonzeroToBin = [50]uint8{
	0, 1, 2, 3, 4, 4, 5, 5, 5, 6,
	6, 6, 6, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
	8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
	8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// freqMax is the largest dequantized magnitude seen per raster position.
var freqMax = [64]uint16{
	1024, 931, 985, 968, 1020, 968, 1020, 1020,
	932, 858, 884, 840, 932, 838, 854, 854,
	985, 884, 871, 875, 985, 878, 871, 854,
	967, 841, 876, 844, 967, 886, 870, 837,
	1020, 932, 985, 967, 1020, 969, 1020, 1020,
	969, 838, 878, 886, 969, 838, 969, 838,
	1020, 854, 871, 870, 1010, 969, 1020, 1020,
	1020, 854, 854, 838, 1020, 838, 1020, 838,
}

// icos is the first column of the 8x8 inverse DCT basis scaled by 8192.
var icos = [8]int32{8192, 11363, 10703, 9633, 8192, 6436, 4433, 2260}

// ResidualNoiseFloor is the number of low residual bits that are coded as
// noise regardless of their position.
const ResidualNoiseFloor = 7

// Group sizes.
const (
	// EdgeLanes is the number of coefficients on each edge.
	EdgeLanes = 7
	// MaxPriorBucket is the largest edge prior bucket.
	MaxPriorBucket = 11
	// Max7x7PriorBucket is the largest 7x7 prior bucket.
	Max7x7PriorBucket = 10
	// MaxThresholdContext is the largest threshold context value.
	MaxThresholdContext = 255
)
