package detect

// CanonVendorID is the USB vendor id shared by all supported cameras.
const CanonVendorID = 0x04A9

type canonModel struct {
	productID uint16
	modelName string
}

// Supported EOS bodies with working live view over PTP.
var supportedModels = []canonModel{
	{0x3264, "Canon EOS 5D Mark III"},
	{0x3265, "Canon EOS 5D Mark IV"},
	{0x326F, "Canon EOS 6D"},
	{0x3270, "Canon EOS 6D Mark II"},
	{0x3252, "Canon EOS 7D Mark II"},
	{0x32D1, "Canon EOS R"},
	{0x32D2, "Canon EOS R5"},
	{0x32D3, "Canon EOS R6"},
	{0x3280, "Canon EOS 90D"},
	{0x3299, "Canon EOS M50 Mark II"},
}

// ModelName resolves a product id to a display name. Unknown products get a
// generic label rather than failing.
func ModelName(productID uint16) string {
	for _, m := range supportedModels {
		if m.productID == productID {
			return m.modelName
		}
	}
	return "Unknown Canon Camera"
}

// IsSupported reports whether the vendor/product pair is a camera this
// pipeline can drive. Pure function, no side effects.
func IsSupported(vendorID, productID uint16) bool {
	if vendorID != CanonVendorID {
		return false
	}
	for _, m := range supportedModels {
		if m.productID == productID {
			return true
		}
	}
	return false
}
