package jobs

const defaultTxt2ImgModel = "CompVis/stable-diffusion-v1-4"

// txt2imgModels は受け付ける画像生成モデルと表示名です。
var txt2imgModels = map[string]string{
	"CompVis/stable-diffusion-v1-1": "Stable Diffusion v1.1",
	"CompVis/stable-diffusion-v1-2": "Stable Diffusion v1.2",
	"CompVis/stable-diffusion-v1-3": "Stable Diffusion v1.3",
	"CompVis/stable-diffusion-v1-4": "Stable Diffusion v1.4",
	"hakurei/waifu-diffusion":       "Waifu Diffusion",
}

// upscaleModels は受け付ける超解像モデルと表示名です。
var upscaleModels = map[string]string{
	"eugenesiow/drln-bam":   "Densely Residual Laplacian Super-Resolution (DRLN-BAM)",
	"eugenesiow/edsr":       "Enhanced Deep Residual Networks for Single Image Super-Resolution (EDSR)",
	"eugenesiow/msrn":       "Multi-scale Residual Network for Image Super-Resolution (MSRN)",
	"eugenesiow/mdsr":       "Multi-Scale Deep Super-Resolution System (MDSR)",
	"eugenesiow/msrn-bam":   "Multi-scale Residual Network for Image Super-Resolution (MSRN-BAM)",
	"eugenesiow/edsr-base":  "Enhanced Deep Residual Networks for Single Image Super-Resolution (EDSR-BASE)",
	"eugenesiow/mdsr-bam":   "Multi-Scale Deep Super-Resolution System (MDSR-BAM)",
	"eugenesiow/awsrn-bam":  "Lightweight Image Super-Resolution with Adaptive Weighted Learning Network (AWSRN-BAM)",
	"eugenesiow/a2n":        "Attention in Attention Network for Image Super-Resolution (A2N)",
	"eugenesiow/carn":       "Cascading Residual Network (CARN)",
	"eugenesiow/carn-bam":   "Cascading Residual Network (CARN-BAM)",
	"eugenesiow/pan":        "Pixel Attention Network (PAN)",
	"eugenesiow/pan-bam":    "Pixel Attention Network (PAN-BAM)",
	"eugenesiow/drln":       "Densely Residual Laplacian Super-Resolution (DRLN)",
	"eugenesiow/han":        "Holistic Attention Network (HAN)",
}
