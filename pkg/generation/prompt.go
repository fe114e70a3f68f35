package generation

import "fmt"

var styleDescriptions = map[Style]string{
	StyleCute:      "adorable, kawaii, chibi style with big eyes and soft features",
	StyleRealistic: "photorealistic with detailed textures and lifelike proportions",
	StyleCartoon:   "cartoon style with bold colors, simplified shapes, and playful design",
}

var sizeDescriptions = map[Size]string{
	SizeSmall:  "small and compact design, approximately 6-8 inches",
	SizeMedium: "medium size, perfect for hugging, approximately 12-16 inches",
	SizeLarge:  "large and oversized, approximately 20-24 inches",
}

// BuildPrompt derives the natural-language instruction sent to the external
// transform service from the job parameters.
func BuildPrompt(style Style, size Size) string {
	return fmt.Sprintf(`Transform this image into a plushie toy design.
Style: %s.
Size: %s.
Create a soft, huggable plush toy version with appropriate proportions for a stuffed animal.
The design should be cuddly and appealing as a physical plush product.
High quality product photography with white background and studio lighting.
Make it look like a professional plush toy photograph that could be sold in stores.`,
		styleDescriptions[style], sizeDescriptions[size])
}
